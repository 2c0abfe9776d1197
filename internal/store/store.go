// Package store abstracts the counting/caching backend shared by the
// rate limiter and the response cache. Two implementations exist: an
// in-process map for single-instance deployments and a Redis client
// for multi-instance ones. Callers must not depend on which is active.
package store

import (
	"context"
	"time"
)

// Store exposes the primitives both consumers need: a sorted-set per
// key for sliding-window counting, and a TTL'd key-value space.
type Store interface {
	// ZAdd inserts member with the given score into the set at key.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRemRangeByScore removes members with min <= score <= max.
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	// ZCard returns the cardinality of the set at key.
	ZCard(ctx context.Context, key string) (int64, error)
	// Expire sets the key's time-to-live.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Get returns the value at key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set writes value with a ttl; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}
