// Package kv defines the key-value contract the session store is built on.
// The primitives mirror Redis semantics one to one: hashes for records,
// lists for ordered indexes, sets for membership and strings with TTL for
// cache entries. Implementations are injected into the session service so
// tests run against the in-memory store and production against Redis.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a string key does not exist or its
// TTL has elapsed. Hash, list and set reads return empty values for missing
// keys instead, matching the backing store.
var ErrNotFound = errors.New("kv: key not found")

// Store is the set of primitives the session model needs. Every call is a
// single-key round trip; multi-key sequences built on top of it are not
// transactional.
type Store interface {
	// Hashes.
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Ordered lists (append-only in this service).
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Unordered sets.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// Strings with expiry.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)

	// Key space.
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
