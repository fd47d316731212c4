// Package store holds the expiring key-value backends the OTP engine keeps
// its per-phone state in, plus the per-key lockers that serialize access.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("store: key not found")
	// ErrUnavailable wraps backend faults (network, marshalling, throttling).
	ErrUnavailable = errors.New("store: backend unavailable")
	// ErrLockTimeout is returned when a per-key lock could not be acquired in time.
	ErrLockTimeout = errors.New("store: lock acquisition timed out")
)

// Store is an expiring key-value store. Absence after the TTL elapses is the
// only expiry mechanism callers rely on. A Put with a non-positive TTL
// removes the key instead of storing it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Locker serializes work on a single key. The returned function releases
// the lock and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
