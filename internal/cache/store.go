// Package cache provides the shared key stores used for fast-path
// deduplication and cross-replica locks.
package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultMemoryCapacity = 100_000

// Store records short-lived marker keys.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, ttl time.Duration) error
}

// NewStore returns a Redis-backed store when a client is configured and a
// process-local one otherwise.
func NewStore(client *redis.Client) Store {
	if client == nil {
		return NewMemoryStore(defaultMemoryCapacity)
	}
	return NewRedisStore(client)
}

type memoryStore struct {
	items Cache[string, struct{}]
}

func NewMemoryStore(maxItems int) Store {
	return &memoryStore{items: NewTTLCache[string, struct{}](maxItems)}
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.items.Get(key)
	return ok, nil
}

func (s *memoryStore) Set(_ context.Context, key string, ttl time.Duration) error {
	s.items.Set(key, struct{}{}, ttl)
	return nil
}

type redisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, key, "1", ttl).Err()
}
