package limiters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/goAccount/persist"
)

const guardKeyPrefix = "ag:"

var (
	ErrGuardConflict    = errors.New("attempt guard write conflict")
	ErrGuardUnavailable = errors.New("attempt guard unavailable")
)

// Decision is the verdict of CheckAndRecord.
type Decision uint8

const (
	Allowed Decision = iota + 1
	RateLimited
	LockedOut
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case RateLimited:
		return "rate_limited"
	case LockedOut:
		return "locked_out"
	}
	return "unknown"
}

// GuardPolicy bounds how often a challenge may be requested for one
// (account, purpose) and when repeated burned challenges lock it.
type GuardPolicy struct {
	// Cooldown is the minimum gap between two issued challenges.
	Cooldown time.Duration
	// Window is the fixed accounting window for MaxRequests and strikes.
	Window time.Duration
	// MaxRequests per Window; 0 disables the budget.
	MaxRequests int
	// LockoutThreshold burned challenges within Window lock the pair; 0 disables.
	LockoutThreshold int
	LockoutDuration  time.Duration
}

func (p GuardPolicy) recordTTL() time.Duration {
	ttl := p.Window + p.LockoutDuration + p.Cooldown
	if ttl <= 0 {
		ttl = time.Hour
	}
	return ttl
}

// AttemptGuardConfig configures an AttemptGuard.
type AttemptGuardConfig struct {
	ConflictRetries int
	Now             func() time.Time
	Logger          *slog.Logger
}

// AttemptGuard enforces request cooldowns and lockouts per (account, purpose).
// State lives in the persistence layer so every backend process sees the same
// counters; updates are optimistic compare-and-swap loops.
type AttemptGuard struct {
	adapter persist.Adapter
	retries int
	now     func() time.Time
	logger  *slog.Logger
}

// NewAttemptGuard returns a guard over adapter. A lost compare-and-swap is
// retried cfg.ConflictRetries times before ErrGuardConflict.
func NewAttemptGuard(adapter persist.Adapter, cfg AttemptGuardConfig) *AttemptGuard {
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AttemptGuard{
		adapter: adapter,
		retries: cfg.ConflictRetries,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
}

func guardKey(accountID string, purpose uint8) string {
	return guardKeyPrefix + strconv.Itoa(int(purpose)) + ":" + accountID
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
}

func (g *AttemptGuard) load(ctx context.Context, key string) ([]byte, *guardRecord, error) {
	raw, err := g.adapter.Get(ctx, key)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, &guardRecord{}, nil
		}
		return nil, nil, unavailable(err)
	}
	rec, err := decodeGuardRecord(raw)
	if err != nil {
		// Counters are not security-critical state on their own: start over,
		// but keep raw as the compare value so the overwrite stays atomic.
		g.logger.Warn("resetting malformed guard record", "key", key, "error", err)
		return raw, &guardRecord{}, nil
	}
	return raw, rec, nil
}

// update runs fn against the current record and writes the result back with
// compare-and-swap. fn returns false to skip the write.
func (g *AttemptGuard) update(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fn func(rec *guardRecord, now time.Time) (bool, error),
) error {
	for attempt := 0; attempt <= g.retries; attempt++ {
		raw, rec, err := g.load(ctx, key)
		if err != nil {
			return err
		}
		write, err := fn(rec, g.now())
		if err != nil || !write {
			return err
		}
		ok, err := g.adapter.CompareAndSwap(ctx, key, raw, encodeGuardRecord(rec), ttl)
		if err != nil {
			return unavailable(err)
		}
		if ok {
			return nil
		}
	}
	return ErrGuardConflict
}

func rollWindow(rec *guardRecord, now time.Time, window time.Duration) {
	if rec.WindowStart.IsZero() || (window > 0 && !now.Before(rec.WindowStart.Add(window))) {
		rec.WindowStart = now
		rec.Requests = 0
		rec.Strikes = 0
	}
}

// CheckAndRecord decides whether a new challenge may be issued and, when
// allowed, records the request. retryAfter is set for denials.
func (g *AttemptGuard) CheckAndRecord(
	ctx context.Context,
	accountID string,
	purpose uint8,
	policy GuardPolicy,
) (decision Decision, retryAfter time.Duration, err error) {
	err = g.update(ctx, guardKey(accountID, purpose), policy.recordTTL(), func(rec *guardRecord, now time.Time) (bool, error) {
		if now.Before(rec.LockedUntil) {
			decision, retryAfter = LockedOut, rec.LockedUntil.Sub(now)
			return false, nil
		}
		rollWindow(rec, now, policy.Window)

		if !rec.LastIssued.IsZero() && policy.Cooldown > 0 {
			if next := rec.LastIssued.Add(policy.Cooldown); now.Before(next) {
				decision, retryAfter = RateLimited, next.Sub(now)
				return false, nil
			}
		}
		if policy.MaxRequests > 0 && int(rec.Requests) >= policy.MaxRequests {
			decision, retryAfter = RateLimited, rec.WindowStart.Add(policy.Window).Sub(now)
			return false, nil
		}

		if rec.Requests < ^uint16(0) {
			rec.Requests++
		}
		rec.LastIssued = now
		decision, retryAfter = Allowed, 0
		return true, nil
	})
	if err != nil {
		return 0, 0, err
	}
	return decision, retryAfter, nil
}

// LockedOut reports whether the pair is currently locked. It never writes.
func (g *AttemptGuard) LockedOut(ctx context.Context, accountID string, purpose uint8) (bool, time.Duration, error) {
	_, rec, err := g.load(ctx, guardKey(accountID, purpose))
	if err != nil {
		return false, 0, err
	}
	now := g.now()
	if now.Before(rec.LockedUntil) {
		return true, rec.LockedUntil.Sub(now), nil
	}
	return false, 0, nil
}

// Strike records a challenge burned by exhausting its attempts. It reports
// whether this strike locked the pair.
func (g *AttemptGuard) Strike(ctx context.Context, accountID string, purpose uint8, policy GuardPolicy) (bool, error) {
	locked := false
	err := g.update(ctx, guardKey(accountID, purpose), policy.recordTTL(), func(rec *guardRecord, now time.Time) (bool, error) {
		locked = false
		rollWindow(rec, now, policy.Window)
		if rec.Strikes < ^uint16(0) {
			rec.Strikes++
		}
		if policy.LockoutThreshold > 0 && int(rec.Strikes) >= policy.LockoutThreshold {
			rec.LockedUntil = now.Add(policy.LockoutDuration)
			rec.Strikes = 0
			locked = true
		}
		return true, nil
	})
	return locked, err
}

// Clear drops accumulated strikes after a successful confirmation. The
// request cooldown is kept.
func (g *AttemptGuard) Clear(ctx context.Context, accountID string, purpose uint8, policy GuardPolicy) error {
	return g.update(ctx, guardKey(accountID, purpose), policy.recordTTL(), func(rec *guardRecord, _ time.Time) (bool, error) {
		if rec.Strikes == 0 {
			return false, nil
		}
		rec.Strikes = 0
		return true, nil
	})
}

// Forgive undoes the last recorded request. Used when the code never reached
// the user so an immediate resend is not penalised.
func (g *AttemptGuard) Forgive(ctx context.Context, accountID string, purpose uint8, policy GuardPolicy) error {
	return g.update(ctx, guardKey(accountID, purpose), policy.recordTTL(), func(rec *guardRecord, _ time.Time) (bool, error) {
		if rec.LastIssued.IsZero() && rec.Requests == 0 {
			return false, nil
		}
		rec.LastIssued = time.Time{}
		if rec.Requests > 0 {
			rec.Requests--
		}
		return true, nil
	})
}

// Reset removes all guard state for the pair.
func (g *AttemptGuard) Reset(ctx context.Context, accountID string, purpose uint8) error {
	if err := g.adapter.Delete(ctx, guardKey(accountID, purpose)); err != nil {
		return unavailable(err)
	}
	return nil
}
