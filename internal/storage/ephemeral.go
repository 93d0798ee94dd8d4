package storage

import (
	"context"
	"slices"
	"sync"

	"chatbridge/internal/domain"
)

// Ephemeral keeps threads in process memory. Nothing survives a restart.
type Ephemeral struct {
	mu       sync.RWMutex
	threads  map[string][]domain.Message
	threadLs []domain.Thread
}

func NewEphemeral() *Ephemeral {
	return &Ephemeral{threads: make(map[string][]domain.Message)}
}

func (e *Ephemeral) SaveThread(_ context.Context, threadID string, messages []domain.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threads[threadID] = slices.Clone(messages)
	return nil
}

func (e *Ephemeral) GetThread(_ context.Context, threadID string) ([]domain.Message, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	msgs, ok := e.threads[threadID]
	if !ok {
		return nil, false
	}
	return slices.Clone(msgs), true
}

func (e *Ephemeral) SaveThreadList(_ context.Context, threads []domain.Thread) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threadLs = slices.Clone(threads)
	return nil
}

func (e *Ephemeral) GetThreadList(_ context.Context) []domain.Thread {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := slices.Clone(e.threadLs)
	if out == nil {
		out = []domain.Thread{}
	}
	return out
}

func (e *Ephemeral) DeleteThread(_ context.Context, threadID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.threads, threadID)
	e.threadLs = withoutThread(e.threadLs, threadID)
	return nil
}

func (e *Ephemeral) UpdateThread(_ context.Context, thread domain.Thread) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threadLs = upsertThread(e.threadLs, thread)
	return nil
}
