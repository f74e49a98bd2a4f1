package persist

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("persist: key not found")
	// ErrUnavailable wraps transient backend failures (network, throttling).
	// Only errors wrapping ErrUnavailable are retried by WithRetry.
	ErrUnavailable = errors.New("persist: backend unavailable")
)

// Adapter is the storage contract consumed by the core components.
//
// ttl is an expiry hint. Zero means the record does not expire on its own.
// Callers never rely on native expiry for correctness and always re-check
// the expiry embedded in the record.
type Adapter interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete is idempotent: deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// CompareAndDelete deletes key only if its stored value equals expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	// CompareAndSwap stores value only if the current value equals expected.
	// A nil expected means the key must be absent (create-if-absent).
	CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error)
}

// Scanner is implemented by backends that can enumerate keys by prefix.
// fn returning an error stops the scan and the error is returned.
type Scanner interface {
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error
}

// Purger is implemented by backends without native expiry. PurgeExpired
// physically removes rows whose ttl hint has elapsed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
