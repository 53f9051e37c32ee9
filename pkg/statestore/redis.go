package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis state store backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore implements Store using Redis. Values are stored under
// tenant-prefixed keys with no expiry; state blobs live until deleted.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Get returns the stored value, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, tenant, key string) (json.RawMessage, error) {
	value, err := s.client.Get(ctx, CompositeKey(tenant, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting state: %w", err)
	}
	return value, nil
}

// Set stores or overwrites the value.
func (s *RedisStore) Set(ctx context.Context, tenant, key string, value json.RawMessage) error {
	if err := s.client.Set(ctx, CompositeKey(tenant, key), []byte(value), 0).Err(); err != nil {
		return fmt.Errorf("setting state: %w", err)
	}
	return nil
}

// Delete removes the value.
func (s *RedisStore) Delete(ctx context.Context, tenant, key string) error {
	if err := s.client.Del(ctx, CompositeKey(tenant, key)).Err(); err != nil {
		return fmt.Errorf("deleting state: %w", err)
	}
	return nil
}

// Keys lists all keys stored for a tenant. SCAN is used instead of KEYS
// to avoid blocking the server on large keyspaces.
func (s *RedisStore) Keys(ctx context.Context, tenant string) ([]string, error) {
	prefix := CompositeKey(tenant, "")
	pattern := prefix + "*"

	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning state keys: %w", err)
	}
	return keys, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Verify interface compliance.
var _ Store = (*RedisStore)(nil)
