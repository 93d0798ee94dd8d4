package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisAPI is the subset of *redis.Client used by Redis.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Redis is a Store on a redis server. A zero expiry keeps keys forever.
type Redis struct {
	client redisAPI
	expiry time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client redisAPI, expiry time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("kvstore: redis client must not be nil")
	}
	return &Redis{client: client, expiry: expiry}, nil
}

// DialRedis creates a client for addr.
func DialRedis(addr, password string, db int, expiry time.Duration) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("kvstore: redis address must not be empty")
	}
	return NewRedis(redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), expiry)
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore: redis get %q: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, r.expiry).Err(); err != nil {
		return fmt.Errorf("kvstore: redis set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kvstore: redis remove %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
