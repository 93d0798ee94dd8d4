package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatbridge/internal/domain"
	"chatbridge/internal/kvstore"
	"chatbridge/internal/logging"
)

const (
	keyPrefix  = "chat-widget:"
	threadsKey = keyPrefix + "threads"

	// ISO-8601 in UTC with millisecond precision.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// storedThread is the on-disk form of domain.Thread; time values never cross
// the storage boundary as anything but text.
type storedThread struct {
	ThreadID  string `json:"threadId"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
	IsRunning bool   `json:"isRunning"`
}

// Durable persists threads in a kvstore.Store under namespaced keys.
type Durable struct {
	store  kvstore.Store
	logger *slog.Logger

	// indexMu serializes read-modify-write cycles on the thread index.
	indexMu sync.Mutex
}

func NewDurable(store kvstore.Store, logger *slog.Logger) (*Durable, error) {
	if store == nil {
		return nil, errors.New("storage: durable store must not be nil")
	}
	return &Durable{store: store, logger: logging.OrNop(logger)}, nil
}

func threadKey(threadID string) string {
	return keyPrefix + "thread:" + threadID
}

func (d *Durable) SaveThread(ctx context.Context, threadID string, messages []domain.Message) error {
	if messages == nil {
		messages = []domain.Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return d.writeError("save_thread", msgSaveThread, err)
	}
	if err := d.store.Set(ctx, threadKey(threadID), string(raw)); err != nil {
		return d.writeError("save_thread", msgSaveThread, err)
	}
	return nil
}

func (d *Durable) GetThread(ctx context.Context, threadID string) ([]domain.Message, bool) {
	raw, found, err := d.store.Get(ctx, threadKey(threadID))
	if err != nil {
		d.logger.Error("failed to load thread", "threadId", threadID, "err", err)
		return nil, false
	}
	if !found || raw == "" {
		return nil, false
	}
	var msgs []domain.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		d.logger.Error("failed to decode thread", "threadId", threadID, "err", err)
		return nil, false
	}
	return msgs, true
}

func (d *Durable) SaveThreadList(ctx context.Context, threads []domain.Thread) error {
	d.indexMu.Lock()
	defer d.indexMu.Unlock()
	if err := d.saveThreadList(ctx, threads); err != nil {
		return d.writeError("save_thread_list", msgSaveThreadList, err)
	}
	return nil
}

func (d *Durable) saveThreadList(ctx context.Context, threads []domain.Thread) error {
	stored := make([]storedThread, 0, len(threads))
	for _, t := range threads {
		stored = append(stored, storedThread{
			ThreadID:  t.ThreadID,
			Title:     t.Title,
			CreatedAt: t.CreatedAt.UTC().Format(timestampLayout),
			IsRunning: t.IsRunning,
		})
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode thread list: %w", err)
	}
	return d.store.Set(ctx, threadsKey, string(raw))
}

func (d *Durable) GetThreadList(ctx context.Context) []domain.Thread {
	d.indexMu.Lock()
	defer d.indexMu.Unlock()
	return d.getThreadList(ctx)
}

func (d *Durable) getThreadList(ctx context.Context) []domain.Thread {
	raw, found, err := d.store.Get(ctx, threadsKey)
	if err != nil {
		d.logger.Error("failed to load thread list", "err", err)
		return []domain.Thread{}
	}
	if !found || raw == "" {
		return []domain.Thread{}
	}
	var stored []storedThread
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		d.logger.Error("failed to decode thread list", "err", err)
		return []domain.Thread{}
	}
	threads := make([]domain.Thread, 0, len(stored))
	for _, s := range stored {
		createdAt, err := time.Parse(time.RFC3339Nano, s.CreatedAt)
		if err != nil {
			d.logger.Warn("invalid thread timestamp", "threadId", s.ThreadID, "createdAt", s.CreatedAt, "err", err)
		}
		threads = append(threads, domain.Thread{
			ThreadID:  s.ThreadID,
			Title:     s.Title,
			CreatedAt: createdAt,
			IsRunning: s.IsRunning,
		})
	}
	return threads
}

// DeleteThread removes the content key first and then rewrites the index.
// A failed index rewrite fails the whole operation.
func (d *Durable) DeleteThread(ctx context.Context, threadID string) error {
	d.indexMu.Lock()
	defer d.indexMu.Unlock()

	if err := d.store.Remove(ctx, threadKey(threadID)); err != nil {
		return d.writeError("delete_thread", msgDeleteThread, err)
	}
	threads := withoutThread(d.getThreadList(ctx), threadID)
	if err := d.saveThreadList(ctx, threads); err != nil {
		return d.writeError("delete_thread", msgDeleteThread, err)
	}
	return nil
}

func (d *Durable) UpdateThread(ctx context.Context, thread domain.Thread) error {
	d.indexMu.Lock()
	defer d.indexMu.Unlock()

	threads := upsertThread(d.getThreadList(ctx), thread)
	if err := d.saveThreadList(ctx, threads); err != nil {
		return d.writeError("update_thread", msgUpdateThread, err)
	}
	return nil
}

func (d *Durable) writeError(op, msg string, err error) error {
	d.logger.Error("storage write failed", "op", op, "err", err)
	return &Error{Op: op, Message: msg, Err: err}
}
