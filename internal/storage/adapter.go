// Package storage persists per-thread message lists and the thread index.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chatbridge/internal/domain"
	"chatbridge/internal/kvstore"
)

// Adapter is the persistence contract shared by every storage variant.
//
// Reads never fail: a missing or unreadable thread is reported as not found,
// an unreadable index as an empty list. Writes return *Error.
type Adapter interface {
	SaveThread(ctx context.Context, threadID string, messages []domain.Message) error
	GetThread(ctx context.Context, threadID string) ([]domain.Message, bool)
	SaveThreadList(ctx context.Context, threads []domain.Thread) error
	GetThreadList(ctx context.Context) []domain.Thread
	DeleteThread(ctx context.Context, threadID string) error
	UpdateThread(ctx context.Context, thread domain.Thread) error
}

// Type selects the storage variant.
type Type string

const (
	TypeNone    Type = "none"
	TypeDurable Type = "durable"
)

// ParseType accepts "none" (the default) and "durable". "localstorage" is
// accepted as an alias of durable.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(TypeNone):
		return TypeNone, nil
	case string(TypeDurable), "localstorage":
		return TypeDurable, nil
	default:
		return "", fmt.Errorf("storage: unknown storage type %q", s)
	}
}

// New builds the adapter for t. store is required for TypeDurable and ignored otherwise.
func New(t Type, store kvstore.Store, logger *slog.Logger) (Adapter, error) {
	switch t {
	case TypeNone, "":
		return NewEphemeral(), nil
	case TypeDurable:
		return NewDurable(store, logger)
	default:
		return nil, fmt.Errorf("storage: unknown storage type %q", t)
	}
}

// upsertThread replaces the thread with the same id in place or appends it.
func upsertThread(threads []domain.Thread, thread domain.Thread) []domain.Thread {
	for i := range threads {
		if threads[i].ThreadID == thread.ThreadID {
			threads[i] = thread
			return threads
		}
	}
	return append(threads, thread)
}

func withoutThread(threads []domain.Thread, threadID string) []domain.Thread {
	out := make([]domain.Thread, 0, len(threads))
	for _, t := range threads {
		if t.ThreadID != threadID {
			out = append(out, t)
		}
	}
	return out
}
