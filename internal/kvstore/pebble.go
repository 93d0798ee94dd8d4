package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Pebble is a Store on a local pebble database.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the pebble database in dir.
func OpenPebble(dir string) (*Pebble, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("kvstore: create pebble dir: %w", err)
	}
	return openPebble(dir, &pebble.Options{})
}

// OpenPebbleInMemory opens a pebble database on an in-memory filesystem.
func OpenPebbleInMemory() (*Pebble, error) {
	return openPebble("", &pebble.Options{FS: vfs.NewMem()})
}

func openPebble(dir string, opts *pebble.Options) (*Pebble, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open pebble: %w", err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Get(_ context.Context, key string) (string, bool, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore: pebble get %q: %w", key, err)
	}
	defer closer.Close()
	// v is only valid until closer.Close.
	return string(v), true, nil
}

func (p *Pebble) Set(_ context.Context, key, value string) error {
	if err := p.db.Set([]byte(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("kvstore: pebble set %q: %w", key, err)
	}
	return nil
}

func (p *Pebble) Remove(_ context.Context, key string) error {
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("kvstore: pebble remove %q: %w", key, err)
	}
	return nil
}

func (p *Pebble) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
