// ABOUTME: Shared cache capability interface backing dedup markers and creation locks
// ABOUTME: Includes a no-op implementation so callers can fail open without nil checks

package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the capability interface for the shared cross-process cache.
// SetIfAbsent is the atomic primitive behind creation locks; Set with TTL
// backs dedup markers. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// SetIfAbsent sets the key only if it does not exist, returning true if
	// the key was set (lock acquired) and false if it was already present.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Close() error
}

// Noop is a Cache that stores nothing. Every lookup misses and every
// SetIfAbsent succeeds, which makes dedup and locking degrade to
// fail-open behavior without conditional wiring in callers.
type Noop struct{}

// NewNoop returns the no-op cache.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) Get(context.Context, string) (string, error) { return "", ErrNotFound }

func (*Noop) Set(context.Context, string, string, time.Duration) error { return nil }

func (*Noop) Del(context.Context, string) error { return nil }

func (*Noop) Exists(context.Context, string) (bool, error) { return false, nil }

func (*Noop) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (*Noop) Close() error { return nil }
