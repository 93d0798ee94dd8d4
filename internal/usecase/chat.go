package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatbridge/internal/domain"
	"chatbridge/internal/integrations/webhook"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"
	"chatbridge/internal/relay"
	"chatbridge/internal/storage"
)

type WebhookSender interface {
	Send(ctx context.Context, sessionID, prompt string) (*webhook.Response, error)
}

// Hooks let the widget observe thread activity. Nil hooks are skipped.
type Hooks struct {
	// SessionChanged runs when a thread is created, selected or processed.
	SessionChanged func(threadID string)
	// SessionStarted runs when the first message of a thread is processed.
	SessionStarted func(threadID string)
	// MessageSaved runs after an assistant message has been persisted.
	MessageSaved func(threadID string, msg domain.Message)
}

// ChatService implements the callbacks the chat front-end drives: message
// processing, thread loading and thread list management.
type ChatService struct {
	webhook WebhookSender
	store   storage.Adapter
	logger  *slog.Logger
	metrics *metrics.Metrics
	hooks   Hooks
	now     func() time.Time
}

type Option func(*ChatService)

func WithLogger(l *slog.Logger) Option {
	return func(s *ChatService) {
		s.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ChatService) {
		s.metrics = m
	}
}

func WithHooks(h Hooks) Option {
	return func(s *ChatService) {
		s.hooks = h
	}
}

type ProcessInput struct {
	ThreadID string
	// Messages is the full thread history, ending with the new user message.
	Messages []domain.Message
	// ResponseID becomes the id of the persisted assistant message.
	ResponseID string
}

func NewChatService(w WebhookSender, s storage.Adapter, opts ...Option) (*ChatService, error) {
	if w == nil {
		return nil, errors.New("usecase: webhook sender must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: storage adapter must not be nil")
	}
	svc := &ChatService{webhook: w, store: s, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	svc.logger = logging.OrNop(svc.logger)
	return svc, nil
}

// ProcessMessage persists the user messages, sends the last one to the
// webhook and returns the relayed reply. The caller must Close the stream;
// the assistant message is saved only if the stream is read to io.EOF.
func (s *ChatService) ProcessMessage(ctx context.Context, in ProcessInput) (*relay.Stream, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return nil, newError(ErrorInvalidInput, "empty_thread_id", nil)
	}
	if len(in.Messages) == 0 {
		return nil, newError(ErrorInvalidInput, "empty_messages", nil)
	}
	responseID := strings.TrimSpace(in.ResponseID)
	if responseID == "" {
		responseID = newUUID()
	}
	s.logger.Debug("processMessage", "threadId", threadID, "messageCount", len(in.Messages))

	s.sessionChanged(threadID)
	if len(in.Messages) == 1 && s.hooks.SessionStarted != nil {
		s.hooks.SessionStarted(threadID)
	}

	if err := s.store.SaveThread(ctx, threadID, in.Messages); err != nil {
		s.metrics.StorageError("save_thread")
		return nil, newError(ErrorStorage, "save_user_messages", err)
	}

	prompt := in.Messages[len(in.Messages)-1].Content
	res, err := s.webhook.Send(ctx, threadID, prompt)
	if err != nil {
		return nil, webhookError(ctx, err)
	}

	return relay.Wrap(ctx, res, relay.Options{
		Store:      s.store,
		ThreadID:   threadID,
		History:    in.Messages,
		ResponseID: responseID,
		Logger:     s.logger,
		Metrics:    s.metrics,
		OnSaved: func(msg domain.Message) {
			if s.hooks.MessageSaved != nil {
				s.hooks.MessageSaved(threadID, msg)
			}
		},
	}), nil
}

func webhookError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return newError(ErrorAborted, "turn_aborted", err)
	}
	var werr *webhook.Error
	if errors.As(err, &werr) {
		if werr.StatusCode >= 200 && werr.StatusCode < 300 {
			return newError(ErrorWebhook, "webhook_no_body", err)
		}
		return newError(ErrorWebhook, "webhook_status", err)
	}
	return newError(ErrorWebhook, "webhook_transport", err)
}

// LoadThread returns the stored messages of a thread, empty when unknown.
func (s *ChatService) LoadThread(ctx context.Context, threadID string) []domain.Message {
	msgs, found := s.store.GetThread(ctx, threadID)
	s.logger.Debug("loadThread", "threadId", threadID, "found", found, "count", len(msgs))
	if !found {
		return []domain.Message{}
	}
	return msgs
}

func (s *ChatService) ListThreads(ctx context.Context) []domain.Thread {
	return s.store.GetThreadList(ctx)
}

// CreateThread registers a new thread titled after its first message and
// stores that message.
func (s *ChatService) CreateThread(ctx context.Context, firstMessage string) (domain.Thread, error) {
	// Durable storage keeps millisecond timestamps; match it here.
	thread := domain.Thread{
		ThreadID:  newUUID(),
		Title:     domain.ThreadTitle(firstMessage),
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.store.UpdateThread(ctx, thread); err != nil {
		s.metrics.StorageError("update_thread")
		return domain.Thread{}, newError(ErrorStorage, "create_thread", err)
	}
	first := domain.Message{ID: newUUID(), Role: domain.RoleUser, Content: firstMessage}
	if err := s.store.SaveThread(ctx, thread.ThreadID, []domain.Message{first}); err != nil {
		s.metrics.StorageError("save_thread")
		return domain.Thread{}, newError(ErrorStorage, "save_first_message", err)
	}
	s.sessionChanged(thread.ThreadID)
	return thread, nil
}

func (s *ChatService) UpdateThread(ctx context.Context, thread domain.Thread) (domain.Thread, error) {
	if strings.TrimSpace(thread.ThreadID) == "" {
		return domain.Thread{}, newError(ErrorInvalidInput, "empty_thread_id", nil)
	}
	if err := s.store.UpdateThread(ctx, thread); err != nil {
		s.metrics.StorageError("update_thread")
		return domain.Thread{}, newError(ErrorStorage, "update_thread", err)
	}
	return thread, nil
}

func (s *ChatService) DeleteThread(ctx context.Context, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return newError(ErrorInvalidInput, "empty_thread_id", nil)
	}
	if err := s.store.DeleteThread(ctx, threadID); err != nil {
		s.metrics.StorageError("delete_thread")
		return newError(ErrorStorage, "delete_thread", err)
	}
	return nil
}

// SelectThread marks threadID as the active session.
func (s *ChatService) SelectThread(threadID string) {
	s.sessionChanged(threadID)
}

func (s *ChatService) sessionChanged(threadID string) {
	if s.hooks.SessionChanged != nil {
		s.hooks.SessionChanged(threadID)
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
