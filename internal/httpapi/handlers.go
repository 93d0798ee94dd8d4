package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"chatbridge/internal/domain"
	"chatbridge/internal/integrations/webhook"
	"chatbridge/internal/usecase"
	"chatbridge/internal/widget"
)

type createThreadRequest struct {
	Message string `json:"message"`
}

type updateThreadRequest struct {
	Title     *string `json:"title"`
	IsRunning *bool   `json:"isRunning"`
}

type processMessageRequest struct {
	Messages   []domain.Message `json:"messages"`
	ResponseID string           `json:"responseId"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) mounted(w http.ResponseWriter, r *http.Request) (*widget.Container, bool) {
	c, ok := s.doc.container(mux.Vars(r)["container"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "container not mounted"})
	}
	return c, ok
}

func (s *Server) describe(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mounted(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Describe())
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mounted(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Chat.ListThreads(r.Context()))
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mounted(w, r)
	if !ok {
		return
	}
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid json"})
		return
	}
	thread, err := c.Chat.CreateThread(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

func (s *Server) loadThread(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mounted(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Chat.LoadThread(r.Context(), mux.Vars(r)["id"]))
}

func (s *Server) updateThread(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mounted(w, r)
	if !ok {
		return
	}
	var req updateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid json"})
		return
	}

	id := mux.Vars(r)["id"]
	var thread domain.Thread
	found := false
	for _, t := range c.Chat.ListThreads(r.Context()) {
		if t.ThreadID == id {
			thread, found = t, true
			break
		}
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "thread not found"})
		return
	}
	if req.Title != nil {
		thread.Title = *req.Title
	}
	if req.IsRunning != nil {
		thread.IsRunning = *req.IsRunning
	}

	updated, err := c.Chat.UpdateThread(r.Context(), thread)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteThread(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mounted(w, r)
	if !ok {
		return
	}
	if err := c.Chat.DeleteThread(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) selectThread(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mounted(w, r)
	if !ok {
		return
	}
	c.Chat.SelectThread(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

// processMessage relays one turn as a plain text body, flushed per chunk.
// Failures before the first byte get a status code; later failures are
// appended to the body since the status line is already sent.
func (s *Server) processMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := s.mounted(w, r)
	if !ok {
		return
	}
	var req processMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	stream, err := c.Chat.ProcessMessage(ctx, usecase.ProcessInput{
		ThreadID:   mux.Vars(r)["id"],
		Messages:   req.Messages,
		ResponseID: req.ResponseID,
	})
	if err != nil {
		status, _ := usecase.HTTPStatus(err)
		http.Error(w, usecase.UserMessage(err), status)
		return
	}
	defer stream.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", webhook.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Debug("turn aborted by client", "containerId", c.ID)
				return
			}
			s.logger.Error("turn failed mid-stream", "containerId", c.ID, "err", err)
			_, _ = io.WriteString(w, "\n"+usecase.UserMessage(err))
			if flusher != nil {
				flusher.Flush()
			}
			return
		}
		if _, err := w.Write(chunk); err != nil {
			s.logger.Debug("client write failed", "containerId", c.ID, "err", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := usecase.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", code, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: string(code), Message: usecase.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
