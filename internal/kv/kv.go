// Package kv defines the key-value store surface the game core requires:
// strings with expiry, hashes, sorted sets, TTL sets, atomic counters and
// key deletion. Operations are single round trips; callers must not depend
// on cross-key atomicity.
package kv

import (
	"context"
	"time"
)

// Member is one sorted-set entry.
type Member struct {
	Member string
	Score  float64
}

// Store is the KV capability consumed by the session engine, the leaderboard
// and the ledger.
type Store interface {
	// Get returns the string value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes a string value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only when the key is absent. Returns true when acquired.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// HSet writes hash fields.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HGet reads one hash field; second return is field presence.
	HGet(ctx context.Context, key, field string) (string, bool, error)
	// HGetAll reads the full hash; empty map when the key is absent.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// Expire sets a key TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ZAdd writes an absolute score for a member.
	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZRem removes members from a sorted set; absent members are ignored.
	ZRem(ctx context.Context, key string, members ...string) error
	// ZRevRange returns members by descending score for ranks [start, stop].
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]Member, error)
	// ZCard returns the sorted-set cardinality.
	ZCard(ctx context.Context, key string) (int64, error)

	// SAdd adds members to a set, applying ttl on first create.
	SAdd(ctx context.Context, key string, ttl time.Duration, members ...string) error
	// SMembers returns all set members.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Incr atomically increments an integer key, applying ttl when the
	// increment creates the key.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Del removes keys.
	Del(ctx context.Context, keys ...string) error

	// Ping probes the store and returns the round-trip latency.
	Ping(ctx context.Context) (time.Duration, error)
}
