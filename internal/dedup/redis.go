package dedup

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "catalog-crawler:downloaded"

// setClient is the subset of *redis.Client the store needs.
type setClient interface {
	SIsMember(ctx context.Context, key string, member any) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	Close() error
}

// RedisStore keeps hashes in one Redis set, which lets several hosts share
// dedup state.
type RedisStore struct {
	client setClient
	key    string
}

// NewRedisStore initializes a Redis-backed store.
func NewRedisStore(addr, key string) *RedisStore {
	return newRedisStore(redis.NewClient(&redis.Options{Addr: addr}), key)
}

func newRedisStore(client setClient, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Seen reports whether hash is a member of the set.
func (s *RedisStore) Seen(ctx context.Context, hash string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, hash).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

// Commit adds hash to the set.
func (s *RedisStore) Commit(ctx context.Context, hash string) error {
	if err := s.client.SAdd(ctx, s.key, hash).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
