// Package types defines common types and interfaces used throughout the admission controller.
package types

import (
	"context"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-redis/redis/v8"
)

// Controller is the caller-facing contract of an admission controller.
type Controller interface {
	// Gate blocks until the caller may issue one remote call. Besides the context's error it
	// can fail with a queue timeout, or with ErrControllerReset (package admission) when
	// Reset evicts the caller while it is queued or waiting on the window.
	Gate(ctx context.Context) error
	// IncreaseInterval backs off after the remote side rejected a call for rate limiting.
	IncreaseInterval()
	// CurrentInterval returns the current sliding-window length.
	CurrentInterval() time.Duration
	// Reset restores the controller to its initial pacing state.
	Reset(ctx context.Context) error
}

// WindowLog stores the admission instants of one controller.
// Implementations are only ever driven by the caller at the head of the controller's queue,
// but must still be safe for concurrent use.
type WindowLog interface {
	// Admit drops entries with now-t >= interval. If fewer than limit remain it records now
	// and returns true; otherwise it returns false and the oldest retained instant.
	Admit(ctx context.Context, now time.Time, interval time.Duration, limit int) (bool, time.Time, error)
	// Len counts entries with now-t < interval.
	Len(ctx context.Context, now time.Time, interval time.Duration) (int, error)
	// Clear drops every entry.
	Clear(ctx context.Context) error
}

// BackendClients holds initialized backend client instances.
type BackendClients struct {
	// RedisClient is the Redis client instance.
	RedisClient *redis.Client
	// MemcacheClient is the Memcache client instance.
	MemcacheClient *memcache.Client
}
