package persist

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds transient retries performed by WithRetry.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type retryingAdapter struct {
	next Adapter
	cfg  RetryConfig
}

// WithRetry wraps next so that calls failing with ErrUnavailable are retried
// with exponential backoff, up to cfg.MaxAttempts total calls. Semantic
// results (not found, lost compare) are returned immediately.
//
// A retried CompareAndSwap may report false when an earlier attempt was
// applied but its reply was lost. Callers already treat false as "re-read".
func WithRetry(next Adapter, cfg RetryConfig) Adapter {
	if cfg.MaxAttempts <= 1 {
		return next
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 20 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 500 * time.Millisecond
	}
	return &retryingAdapter{next: next, cfg: cfg}
}

// Unwrap returns the wrapped adapter.
func (r *retryingAdapter) Unwrap() Adapter { return r.next }

func (r *retryingAdapter) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1)), ctx)
}

func retry[T any](ctx context.Context, r *retryingAdapter, op func() (T, error)) (T, error) {
	var out T
	err := backoff.Retry(func() error {
		v, err := op()
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = v
		return nil
	}, r.policy(ctx))
	return out, err
}

func (r *retryingAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	return retry(ctx, r, func() ([]byte, error) { return r.next.Get(ctx, key) })
}

func (r *retryingAdapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := retry(ctx, r, func() (struct{}, error) {
		return struct{}{}, r.next.Put(ctx, key, value, ttl)
	})
	return err
}

func (r *retryingAdapter) Delete(ctx context.Context, key string) error {
	_, err := retry(ctx, r, func() (struct{}, error) {
		return struct{}{}, r.next.Delete(ctx, key)
	})
	return err
}

func (r *retryingAdapter) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	return retry(ctx, r, func() (bool, error) { return r.next.CompareAndDelete(ctx, key, expected) })
}

func (r *retryingAdapter) CompareAndSwap(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error) {
	return retry(ctx, r, func() (bool, error) {
		return r.next.CompareAndSwap(ctx, key, expected, value, ttl)
	})
}

// Scan delegates when the wrapped adapter supports it.
func (r *retryingAdapter) Scan(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	s, ok := r.next.(Scanner)
	if !ok {
		return errors.ErrUnsupported
	}
	return s.Scan(ctx, prefix, fn)
}

// PurgeExpired delegates when the wrapped adapter supports it.
func (r *retryingAdapter) PurgeExpired(ctx context.Context) (int, error) {
	p, ok := r.next.(Purger)
	if !ok {
		return 0, nil
	}
	return p.PurgeExpired(ctx)
}

// Ping delegates when the wrapped adapter supports it.
func (r *retryingAdapter) Ping(ctx context.Context) error {
	p, ok := r.next.(Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}
