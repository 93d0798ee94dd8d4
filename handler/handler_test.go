package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"chatbridge/internal/domain"
	"chatbridge/internal/relay"
	"chatbridge/internal/storage"
	"chatbridge/internal/usecase"
)

type chunks struct {
	parts []string
	err   error
}

func (c *chunks) Next() ([]byte, error) {
	if len(c.parts) == 0 {
		if c.err != nil {
			return nil, c.err
		}
		return nil, io.EOF
	}
	p := c.parts[0]
	c.parts = c.parts[1:]
	return []byte(p), nil
}

func (c *chunks) Close() error { return nil }

type stubUseCase struct {
	reply      *chunks
	processErr error
	deleteErr  error
	saver      relay.ThreadSaver

	in      usecase.ProcessInput
	deleted string
	threads []domain.Thread
	msgs    map[string][]domain.Message
}

func (s *stubUseCase) ProcessMessage(ctx context.Context, in usecase.ProcessInput) (*relay.Stream, error) {
	s.in = in
	if s.processErr != nil {
		return nil, s.processErr
	}
	return relay.Wrap(ctx, s.reply, relay.Options{Store: s.saver, ThreadID: in.ThreadID, History: in.Messages, ResponseID: in.ResponseID}), nil
}

func (s *stubUseCase) LoadThread(_ context.Context, id string) []domain.Message {
	if m, ok := s.msgs[id]; ok {
		return m
	}
	return []domain.Message{}
}

func (s *stubUseCase) ListThreads(context.Context) []domain.Thread {
	return s.threads
}

func (s *stubUseCase) DeleteThread(_ context.Context, id string) error {
	s.deleted = id
	return s.deleteErr
}

type failingSaver struct{}

func (failingSaver) SaveThread(context.Context, string, []domain.Message) error {
	return &storage.Error{Op: "save_thread", Message: "Failed to save thread. Storage quota may be exceeded."}
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

const turn = `{"threadId":"t-1","responseId":"r-1","messages":[{"id":"u1","role":"user","content":"hi"}]}`

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_ChatBuffersReply(t *testing.T) {
	uc := &stubUseCase{reply: &chunks{parts: []string{"Hel", "lo"}}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", turn))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "t-1", uc.in.ThreadID)
	require.Equal(t, "r-1", uc.in.ResponseID)
	require.Equal(t, []domain.Message{{ID: "u1", Role: "user", Content: "hi"}}, uc.in.Messages)

	out := parseBody[chatResponse](t, resp.Body)
	require.Equal(t, "t-1", out.ThreadID)
	require.Equal(t, domain.Message{ID: "r-1", Role: domain.RoleAssistant, Content: "Hello"}, out.Message)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_ChatGeneratesResponseID(t *testing.T) {
	orig := newUUID
	newUUID = func() string { return "fixed" }
	defer func() { newUUID = orig }()

	uc := &stubUseCase{reply: &chunks{parts: []string{"ok"}}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"threadId":"t-1","messages":[{"id":"u1","role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	require.Equal(t, "fixed", uc.in.ResponseID)
	require.Equal(t, "fixed", resp.Headers["X-Correlation-Id"])
}

func TestHandle_InvalidBody(t *testing.T) {
	h, err := NewHandler(&stubUseCase{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_messages"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "webhook", err: &usecase.Error{Code: usecase.ErrorWebhook, Reason: "webhook_status"}, status: http.StatusBadGateway, code: string(usecase.ErrorWebhook)},
		{name: "storage", err: &usecase.Error{Code: usecase.ErrorStorage, Reason: "save_user_messages"}, status: http.StatusInternalServerError, code: string(usecase.ErrorStorage)},
		{name: "aborted", err: &usecase.Error{Code: usecase.ErrorAborted, Reason: "turn_aborted"}, status: http.StatusServiceUnavailable, code: string(usecase.ErrorAborted)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, err := NewHandler(&stubUseCase{processErr: tc.err})
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", turn))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_MidStreamFailure(t *testing.T) {
	uc := &stubUseCase{reply: &chunks{parts: []string{"par"}, err: errors.New("unexpected EOF")}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", turn))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandle_SaveFailure(t *testing.T) {
	uc := &stubUseCase{reply: &chunks{parts: []string{"done"}}, saver: failingSaver{}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", turn))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorStorage), out.Error)
	require.Equal(t, "Failed to save thread. Storage quota may be exceeded.", out.Message)
}

func TestHandle_TransportErrorHidesWebhookURL(t *testing.T) {
	cause := &url.Error{Op: "Post", URL: "https://hooks.example.test/webhook/secret-id", Err: errors.New("connection refused")}
	uc := &stubUseCase{processErr: &usecase.Error{Code: usecase.ErrorWebhook, Reason: "webhook_transport", Err: cause}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", turn))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.NotContains(t, resp.Body, "secret-id")
	require.Equal(t, "Webhook error: connection refused", parseBody[errorResponse](t, resp.Body).Message)
}

func TestHandle_Threads(t *testing.T) {
	uc := &stubUseCase{
		threads: []domain.Thread{{ThreadID: "t-1", Title: "Hi"}},
		msgs:    map[string][]domain.Message{"t-1": {{ID: "u1", Role: "user", Content: "hi"}}},
	}
	h, err := NewHandler(uc)
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := h.Handle(ctx, makeEvent(http.MethodGet, "/threads", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, parseBody[[]domain.Thread](t, resp.Body), 1)

	resp, err = h.Handle(ctx, makeEvent(http.MethodGet, "/threads/t-1", ""))
	require.NoError(t, err)
	require.Equal(t, "hi", parseBody[[]domain.Message](t, resp.Body)[0].Content)

	resp, err = h.Handle(ctx, makeEvent(http.MethodGet, "/threads/unknown", ""))
	require.NoError(t, err)
	require.JSONEq(t, `[]`, resp.Body)

	event := makeEvent(http.MethodDelete, "/threads/{id}", "")
	event.PathParameters = map[string]string{"id": "t-1"}
	resp, err = h.Handle(ctx, event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "t-1", uc.deleted)

	resp, err = h.Handle(ctx, makeEvent(http.MethodPatch, "/threads/t-1", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandle_DeleteFailure(t *testing.T) {
	uc := &stubUseCase{deleteErr: &usecase.Error{Code: usecase.ErrorStorage, Reason: "delete_thread", Err: &storage.Error{Op: "delete_thread", Message: "Failed to delete thread."}}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodDelete, "/threads/t-1", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "Failed to delete thread.", parseBody[errorResponse](t, resp.Body).Message)
}

func TestHandle_UnknownRoute(t *testing.T) {
	h, err := NewHandler(&stubUseCase{})
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/nope", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h, err := NewHandler(&stubUseCase{reply: &chunks{parts: []string{"ok"}}})
	require.NoError(t, err)

	event := makeEvent(http.MethodPost, "/chat", turn)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
