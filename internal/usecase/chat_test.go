package usecase

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatbridge/internal/domain"
	"chatbridge/internal/integrations/webhook"
	"chatbridge/internal/relay"
	"chatbridge/internal/storage"
)

type webhookStub struct {
	srv   *httptest.Server
	calls atomic.Int32
}

func newWebhookStub(t *testing.T, handler http.HandlerFunc) (*webhookStub, *webhook.Client) {
	t.Helper()
	stub := &webhookStub{}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(stub.srv.Close)
	c, err := webhook.NewClient(webhook.Config{URL: stub.srv.URL})
	require.NoError(t, err)
	return stub, c
}

func respond(contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, body)
	}
}

type failingStore struct {
	*storage.Ephemeral
	err error
}

func (f *failingStore) SaveThread(context.Context, string, []domain.Message) error {
	return f.err
}

func (f *failingStore) UpdateThread(context.Context, domain.Thread) error {
	return f.err
}

func (f *failingStore) DeleteThread(context.Context, string) error {
	return f.err
}

func newTestService(t *testing.T, w WebhookSender, s storage.Adapter, opts ...Option) *ChatService {
	t.Helper()
	svc, err := NewChatService(w, s, opts...)
	require.NoError(t, err)
	return svc
}

func userTurn(contents ...string) []domain.Message {
	msgs := make([]domain.Message, 0, len(contents))
	for i, c := range contents {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msgs = append(msgs, domain.Message{ID: "m-" + string(rune('a'+i)), Role: role, Content: c})
	}
	return msgs
}

func drain(t *testing.T, s *relay.Stream) (string, error) {
	t.Helper()
	var b strings.Builder
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.Write(chunk)
	}
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	_, c := newWebhookStub(t, respond("application/json", `{}`))

	_, err := NewChatService(nil, storage.NewEphemeral())
	require.Error(t, err)

	_, err = NewChatService(c, nil)
	require.Error(t, err)
}

func TestProcessMessage_JSONReplyPersisted(t *testing.T) {
	_, c := newWebhookStub(t, respond("application/json", `{"output":"I can help with that."}`))
	store := storage.NewEphemeral()
	svc := newTestService(t, c, store)

	msgs := userTurn("Can you help?")
	stream, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1", Messages: msgs, ResponseID: "resp-1"})
	require.NoError(t, err)
	defer stream.Close()

	text, err := drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, "I can help with that.", text)

	saved, found := store.GetThread(context.Background(), "t-1")
	require.True(t, found)
	require.Equal(t, append(msgs, domain.Message{ID: "resp-1", Role: domain.RoleAssistant, Content: "I can help with that."}), saved)
}

func TestProcessMessage_LineStreamConcatenated(t *testing.T) {
	body := `{"type":"begin"}` + "\n" +
		`{"type":"item","content":"Once "}` + "\n" +
		`garbage line` + "\n" +
		`{"type":"item","content":"upon "}` + "\n" +
		`{"type":"item","content":"a time"}` + "\n" +
		`{"type":"end"}` + "\n"
	_, c := newWebhookStub(t, respond("application/x-ndjson", body))
	store := storage.NewEphemeral()
	svc := newTestService(t, c, store)

	stream, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1", Messages: userTurn("story", "ok", "tell me"), ResponseID: "r"})
	require.NoError(t, err)
	defer stream.Close()

	text, err := drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, "Once upon a time", text)

	saved, _ := store.GetThread(context.Background(), "t-1")
	require.Len(t, saved, 4)
	require.Equal(t, "Once upon a time", saved[3].Content)
	require.Equal(t, domain.RoleAssistant, saved[3].Role)
}

func TestProcessMessage_MalformedFirstLineNotPersisted(t *testing.T) {
	body := "not json\n" + `{"type":"item","content":"a"}` + "\n" + `{"type":"item","content":"b"}` + "\n"
	_, c := newWebhookStub(t, respond("application/json", body))
	store := storage.NewEphemeral()
	svc := newTestService(t, c, store)

	stream, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1", Messages: userTurn("hi"), ResponseID: "r"})
	require.NoError(t, err)
	defer stream.Close()

	text, err := drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, "ab", text)

	saved, _ := store.GetThread(context.Background(), "t-1")
	require.Equal(t, "ab", saved[1].Content)
}

func TestProcessMessage_SendsLastMessageAndThreadID(t *testing.T) {
	var got string
	_, c := newWebhookStub(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		_, _ = io.WriteString(w, `{"output":"ok"}`)
	})
	svc := newTestService(t, c, storage.NewEphemeral())

	stream, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-9", Messages: userTurn("first", "reply", "latest")})
	require.NoError(t, err)
	stream.Close()
	require.JSONEq(t, `{"chatInput":"latest","sessionId":"t-9"}`, got)
}

func TestProcessMessage_WebhookFailure(t *testing.T) {
	_, c := newWebhookStub(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := storage.NewEphemeral()
	var session string
	svc := newTestService(t, c, store, WithHooks(Hooks{SessionChanged: func(id string) { session = id }}))

	msgs := userTurn("hello")
	_, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1", Messages: msgs})
	expectError(t, err, ErrorWebhook, "webhook_status")

	var werr *webhook.Error
	require.ErrorAs(t, err, &werr)
	require.Equal(t, http.StatusInternalServerError, werr.StatusCode)

	require.Equal(t, "t-1", session)
	saved, found := store.GetThread(context.Background(), "t-1")
	require.True(t, found)
	require.Equal(t, msgs, saved, "only the user message is stored")
}

func TestProcessMessage_UserMessagesSavedBeforeWebhook(t *testing.T) {
	store := storage.NewEphemeral()
	var seen []domain.Message
	_, c := newWebhookStub(t, func(w http.ResponseWriter, _ *http.Request) {
		seen, _ = store.GetThread(context.Background(), "t-1")
		_, _ = io.WriteString(w, `{"output":"ok"}`)
	})
	svc := newTestService(t, c, store)

	msgs := userTurn("hello")
	stream, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1", Messages: msgs})
	require.NoError(t, err)
	stream.Close()
	require.Equal(t, msgs, seen)
}

func TestProcessMessage_AbortedTurnNotPersisted(t *testing.T) {
	release := make(chan struct{})
	_, c := newWebhookStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"type":"item","content":"par"}`+"\n"+`{"type":"item","content":"tial"}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	store := storage.NewEphemeral()
	svc := newTestService(t, c, store)

	ctx, cancel := context.WithCancel(context.Background())
	msgs := userTurn("hello")
	stream, err := svc.ProcessMessage(ctx, ProcessInput{ThreadID: "t-1", Messages: msgs, ResponseID: "r"})
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Next()
	require.NoError(t, err)
	require.Equal(t, "par", string(chunk))

	cancel()
	_, err = drain(t, stream)
	require.Error(t, err)

	saved, _ := store.GetThread(context.Background(), "t-1")
	require.Equal(t, msgs, saved)
}

func TestProcessMessage_ClosedEarlyNotPersisted(t *testing.T) {
	_, c := newWebhookStub(t, respond("application/x-ndjson", `{"type":"item","content":"a"}`+"\n"+`{"type":"item","content":"b"}`+"\n"))
	store := storage.NewEphemeral()
	svc := newTestService(t, c, store)

	msgs := userTurn("hello")
	stream, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1", Messages: msgs})
	require.NoError(t, err)
	_, err = stream.Next()
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	saved, _ := store.GetThread(context.Background(), "t-1")
	require.Equal(t, msgs, saved)
}

func TestProcessMessage_SessionStartedOnFirstMessageOnly(t *testing.T) {
	_, c := newWebhookStub(t, respond("application/json", `{"output":"ok"}`))
	var started []string
	var savedIDs []string
	svc := newTestService(t, c, storage.NewEphemeral(), WithHooks(Hooks{
		SessionStarted: func(id string) { started = append(started, id) },
		MessageSaved:   func(_ string, m domain.Message) { savedIDs = append(savedIDs, m.ID) },
	}))

	stream, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1", Messages: userTurn("one"), ResponseID: "r-1"})
	require.NoError(t, err)
	_, err = drain(t, stream)
	require.NoError(t, err)

	stream, err = svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1", Messages: userTurn("one", "ok", "two"), ResponseID: "r-2"})
	require.NoError(t, err)
	_, err = drain(t, stream)
	require.NoError(t, err)

	require.Equal(t, []string{"t-1"}, started)
	require.Equal(t, []string{"r-1", "r-2"}, savedIDs)
}

func TestProcessMessage_GeneratesResponseID(t *testing.T) {
	orig := newUUID
	newUUID = func() string { return "generated-id" }
	defer func() { newUUID = orig }()

	_, c := newWebhookStub(t, respond("application/json", `{"output":"ok"}`))
	store := storage.NewEphemeral()
	svc := newTestService(t, c, store)

	stream, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1", Messages: userTurn("hi")})
	require.NoError(t, err)
	_, err = drain(t, stream)
	require.NoError(t, err)

	saved, _ := store.GetThread(context.Background(), "t-1")
	require.Equal(t, "generated-id", saved[1].ID)
}

func TestProcessMessage_InvalidInput(t *testing.T) {
	stub, c := newWebhookStub(t, respond("application/json", `{}`))
	svc := newTestService(t, c, storage.NewEphemeral())

	_, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: " ", Messages: userTurn("x")})
	expectError(t, err, ErrorInvalidInput, "empty_thread_id")

	_, err = svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1"})
	expectError(t, err, ErrorInvalidInput, "empty_messages")
	require.Zero(t, stub.calls.Load())
}

func TestProcessMessage_StorageFailureStopsTurn(t *testing.T) {
	stub, c := newWebhookStub(t, respond("application/json", `{"output":"ok"}`))
	svc := newTestService(t, c, &failingStore{Ephemeral: storage.NewEphemeral(), err: &storage.Error{Op: "save_thread", Message: "full"}})

	_, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1", Messages: userTurn("x")})
	expectError(t, err, ErrorStorage, "save_user_messages")
	require.Zero(t, stub.calls.Load(), "webhook must not be called when user messages were not saved")
}

func TestProcessMessage_NoBody(t *testing.T) {
	_, c := newWebhookStub(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	svc := newTestService(t, c, storage.NewEphemeral())
	_, err := svc.ProcessMessage(context.Background(), ProcessInput{ThreadID: "t-1", Messages: userTurn("x")})
	expectError(t, err, ErrorWebhook, "webhook_no_body")
}

func TestCreateThread(t *testing.T) {
	_, c := newWebhookStub(t, respond("application/json", `{}`))
	store := storage.NewEphemeral()
	var session string
	svc := newTestService(t, c, store, WithHooks(Hooks{SessionChanged: func(id string) { session = id }}))
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	long := strings.Repeat("x", 60)
	thread, err := svc.CreateThread(context.Background(), long)
	require.NoError(t, err)
	require.NotEmpty(t, thread.ThreadID)
	require.Equal(t, strings.Repeat("x", 50)+"...", thread.Title)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), thread.CreatedAt)
	require.Equal(t, thread.ThreadID, session)

	require.Equal(t, []domain.Thread{thread}, svc.ListThreads(context.Background()))
	msgs := svc.LoadThread(context.Background(), thread.ThreadID)
	require.Len(t, msgs, 1)
	require.Equal(t, long, msgs[0].Content)
	require.Equal(t, domain.RoleUser, msgs[0].Role)
}

func TestCreateThread_UniqueIDs(t *testing.T) {
	_, c := newWebhookStub(t, respond("application/json", `{}`))
	svc := newTestService(t, c, storage.NewEphemeral())
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		th, err := svc.CreateThread(context.Background(), "hi")
		require.NoError(t, err)
		require.False(t, seen[th.ThreadID])
		seen[th.ThreadID] = true
	}
}

func TestThreadManagement(t *testing.T) {
	_, c := newWebhookStub(t, respond("application/json", `{}`))
	var session string
	svc := newTestService(t, c, storage.NewEphemeral(), WithHooks(Hooks{SessionChanged: func(id string) { session = id }}))
	ctx := context.Background()

	require.Empty(t, svc.LoadThread(ctx, "missing"))
	require.NotNil(t, svc.LoadThread(ctx, "missing"))

	th, err := svc.CreateThread(ctx, "hello")
	require.NoError(t, err)

	th.Title = "Renamed"
	_, err = svc.UpdateThread(ctx, th)
	require.NoError(t, err)
	require.Equal(t, "Renamed", svc.ListThreads(ctx)[0].Title)

	svc.SelectThread("other")
	require.Equal(t, "other", session)

	require.NoError(t, svc.DeleteThread(ctx, th.ThreadID))
	require.Empty(t, svc.ListThreads(ctx))
	require.Empty(t, svc.LoadThread(ctx, th.ThreadID))

	expectError(t, svc.DeleteThread(ctx, ""), ErrorInvalidInput, "empty_thread_id")
	_, err = svc.UpdateThread(ctx, domain.Thread{})
	expectError(t, err, ErrorInvalidInput, "empty_thread_id")
}

func TestThreadManagement_StorageErrors(t *testing.T) {
	_, c := newWebhookStub(t, respond("application/json", `{}`))
	svc := newTestService(t, c, &failingStore{Ephemeral: storage.NewEphemeral(), err: errors.New("quota")})
	ctx := context.Background()

	_, err := svc.CreateThread(ctx, "hi")
	expectError(t, err, ErrorStorage, "create_thread")
	_, err = svc.UpdateThread(ctx, domain.Thread{ThreadID: "t"})
	expectError(t, err, ErrorStorage, "update_thread")
	expectError(t, svc.DeleteThread(ctx, "t"), ErrorStorage, "delete_thread")
}
