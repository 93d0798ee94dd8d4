// Package relay forwards a normalized reply to the caller while keeping a
// copy, and persists the assistant message once the reply has completed.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"

	"chatbridge/internal/domain"
	"chatbridge/internal/logging"
	"chatbridge/internal/metrics"
)

// ChunkReader yields a stream one chunk at a time; Next returns io.EOF after
// the last chunk.
type ChunkReader interface {
	Next() ([]byte, error)
	Close() error
}

// ThreadSaver persists a thread's full message list.
type ThreadSaver interface {
	SaveThread(ctx context.Context, threadID string, messages []domain.Message) error
}

// Options describes the turn being relayed.
type Options struct {
	Store    ThreadSaver
	ThreadID string
	// History is every message of the thread so far, without the pending reply.
	History    []domain.Message
	ResponseID string
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	// OnSaved runs after the assistant message has been persisted.
	OnSaved func(domain.Message)
}

// Stream is the relayed reply. It is not safe for concurrent use.
type Stream struct {
	ctx  context.Context
	src  ChunkReader
	opts Options

	content  strings.Builder
	finished bool
	closed   bool
	err      error
}

// Wrap relays src. The assistant message is persisted only when src reaches
// EOF while ctx is still live and the stream has not been closed.
func Wrap(ctx context.Context, src ChunkReader, opts Options) *Stream {
	opts.Logger = logging.OrNop(opts.Logger)
	return &Stream{ctx: ctx, src: src, opts: opts}
}

// Next returns the next chunk of the reply. The final io.EOF is only
// returned after the assistant message has been saved.
func (s *Stream) Next() ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.closed {
		return nil, io.ErrClosedPipe
	}
	chunk, err := s.src.Next()
	if len(chunk) > 0 && err == nil {
		s.content.Write(chunk)
		return chunk, nil
	}
	if errors.Is(err, io.EOF) {
		s.err = s.finish()
		return nil, s.err
	}
	if err == nil {
		return chunk, nil
	}
	s.opts.Logger.Error("relay source failed", "threadId", s.opts.ThreadID, "err", err)
	s.err = err
	return nil, err
}

func (s *Stream) finish() error {
	if s.finished {
		return io.EOF
	}
	s.finished = true
	if err := s.ctx.Err(); err != nil {
		s.opts.Logger.Debug("turn aborted before save", "threadId", s.opts.ThreadID)
		return err
	}
	msg := domain.Message{
		ID:      s.opts.ResponseID,
		Role:    domain.RoleAssistant,
		Content: s.content.String(),
	}
	if s.opts.Store != nil {
		messages := append(slices.Clone(s.opts.History), msg)
		if err := s.opts.Store.SaveThread(s.ctx, s.opts.ThreadID, messages); err != nil {
			s.opts.Logger.Error("failed to save assistant message", "threadId", s.opts.ThreadID, "err", err)
			return err
		}
		s.opts.Metrics.MessageSaved()
		s.opts.Logger.Debug("saved assistant message", "threadId", s.opts.ThreadID, "total", len(messages))
	}
	if s.opts.OnSaved != nil {
		s.opts.OnSaved(msg)
	}
	return io.EOF
}

// Content returns the text relayed so far.
func (s *Stream) Content() string {
	return s.content.String()
}

// Close aborts the relay if it has not completed and releases the source.
// Nothing is persisted after Close.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.src.Close()
}
