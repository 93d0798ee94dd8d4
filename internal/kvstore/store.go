// Package kvstore provides the durable string key-value backends used by the
// durable storage adapter.
package kvstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Store is a flat string key-value store. Get reports found=false for
// missing keys; Remove of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by configuration.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendPebble   = "pebble"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

// ParseBackend normalizes a configured backend name.
func ParseBackend(name string) (string, error) {
	switch b := strings.ToLower(strings.TrimSpace(name)); b {
	case "":
		return BackendPebble, nil
	case BackendMemory, BackendDynamoDB, BackendPebble, BackendRedis, BackendSQLite:
		return b, nil
	default:
		return "", fmt.Errorf("kvstore: unknown backend %q", name)
	}
}

// Memory is a map-backed Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error { return nil }
