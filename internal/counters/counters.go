// Package counters is the fast key-value abstraction backing rate limits,
// budgets, round-robin cursors, and circuit-breaker state. It hides the
// specific KV technology behind a small capability set so the gates and
// selector never depend on a concrete Redis client directly.
package counters

import (
	"context"
	"time"
)

// Store is the capability set every higher-level gate is written against.
// A Redis-backed implementation lives in redis.go; tests use an in-memory
// fake implementing the same interface (see fake.go).
type Store interface {
	// Incr atomically increments key by 1 and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// IncrBy atomically increments key by n and returns the new value.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	// Expire sets a TTL on key. A no-op if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Get returns the integer value of key, or 0 if the key does not exist.
	Get(ctx context.Context, key string) (int64, error)
	// Set stores an integer value for key with the given TTL (0 = no expiry).
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error

	// ZAdd adds member with the given score to the sorted set at key.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRemRangeByScore removes members scored in [min, max] from the sorted set.
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	// ZCard returns the cardinality of the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)

	// HGetAll returns all fields of the hash at key.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HIncrBy atomically increments hash field by n and returns the new value.
	HIncrBy(ctx context.Context, key string, field string, n int64) (int64, error)

	// SAdd adds members to the set at key and refreshes its TTL.
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error

	Close() error
}
