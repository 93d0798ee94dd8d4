// Package handler adapts the chat service to AWS Lambda behind an API
// Gateway proxy integration. Replies are buffered into a single body.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"chatbridge/internal/domain"
	"chatbridge/internal/logging"
	"chatbridge/internal/relay"
	"chatbridge/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatUseCase is the subset of *usecase.ChatService the handler drives.
type ChatUseCase interface {
	ProcessMessage(ctx context.Context, in usecase.ProcessInput) (*relay.Stream, error)
	LoadThread(ctx context.Context, threadID string) []domain.Message
	ListThreads(ctx context.Context) []domain.Thread
	DeleteThread(ctx context.Context, threadID string) error
}

type chatRequest struct {
	ThreadID   string           `json:"threadId"`
	Messages   []domain.Message `json:"messages"`
	ResponseID string           `json:"responseId"`
}

type chatResponse struct {
	ThreadID string         `json:"threadId"`
	Message  domain.Message `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type Handler struct {
	chat   ChatUseCase
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

func NewHandler(chat ChatUseCase, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	h := &Handler{chat: chat}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrNop(h.logger)
	return h, nil
}

// Handle routes one API Gateway proxy request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}
	logger := h.logger.With("correlationId", correlationID)

	path := strings.TrimSuffix(req.Path, "/")
	var (
		status int
		body   any
	)
	switch {
	case path == "/chat" && req.HTTPMethod == http.MethodPost:
		status, body = h.chatTurn(ctx, logger, req.Body)
	case path == "/threads" && req.HTTPMethod == http.MethodGet:
		status, body = http.StatusOK, h.chat.ListThreads(ctx)
	case strings.HasPrefix(path, "/threads/"):
		status, body = h.thread(ctx, logger, req.HTTPMethod, threadID(req, path))
	default:
		status, body = http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "route not found"}
	}
	return jsonResponse(status, body, correlationID), nil
}

func (h *Handler) chatTurn(ctx context.Context, logger *slog.Logger, raw string) (int, any) {
	var in chatRequest
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid json"}
	}
	if strings.TrimSpace(in.ResponseID) == "" {
		in.ResponseID = newUUID()
	}

	stream, err := h.chat.ProcessMessage(ctx, usecase.ProcessInput{
		ThreadID:   in.ThreadID,
		Messages:   in.Messages,
		ResponseID: in.ResponseID,
	})
	if err != nil {
		return h.failure(logger, err)
	}
	defer stream.Close()

	for {
		_, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return h.failure(logger, err)
		}
	}
	return http.StatusOK, chatResponse{
		ThreadID: in.ThreadID,
		Message:  domain.Message{ID: in.ResponseID, Role: domain.RoleAssistant, Content: stream.Content()},
	}
}

func (h *Handler) thread(ctx context.Context, logger *slog.Logger, method, id string) (int, any) {
	if id == "" {
		return http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "route not found"}
	}
	switch method {
	case http.MethodGet:
		return http.StatusOK, h.chat.LoadThread(ctx, id)
	case http.MethodDelete:
		if err := h.chat.DeleteThread(ctx, id); err != nil {
			return h.failure(logger, err)
		}
		return http.StatusOK, map[string]string{"threadId": id}
	default:
		return http.StatusMethodNotAllowed, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "method not allowed"}
	}
}

func (h *Handler) failure(logger *slog.Logger, err error) (int, any) {
	status, code := usecase.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", code, "err", err)
	}
	return status, errorResponse{Error: string(code), Message: usecase.UserMessage(err)}
}

func threadID(req events.APIGatewayProxyRequest, path string) string {
	if id := req.PathParameters["id"]; id != "" {
		return id
	}
	id := strings.TrimPrefix(path, "/threads/")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(raw),
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
