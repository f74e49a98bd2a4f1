package stores

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/persist"
	"github.com/google/uuid"
)

const challengeKeyPrefix = "vc:"

var (
	ErrChallengeOutstanding = errors.New("challenge already outstanding")
	ErrChallengeConflict    = errors.New("challenge write conflict")
	ErrChallengeUnavailable = errors.New("challenge store unavailable")
	ErrSweepUnsupported     = errors.New("backend cannot enumerate challenges")
)

// Outcome is the result of a validation attempt.
type Outcome uint8

const (
	OutcomeValid Outcome = iota + 1
	OutcomeInvalid
	OutcomeExpired
	OutcomeNotFound
	// OutcomeAttemptsExceeded is the mismatch that used up the last attempt.
	// The record is gone; callers report it like Expired.
	OutcomeAttemptsExceeded
	// OutcomeMalformed means the stored record could not be decoded and was
	// discarded. Callers report it like NotFound.
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeExpired:
		return "expired"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeAttemptsExceeded:
		return "attempts_exceeded"
	case OutcomeMalformed:
		return "malformed"
	}
	return "unknown"
}

// ChallengeStoreConfig configures a ChallengeStore.
type ChallengeStoreConfig struct {
	// ConflictRetries is how many times a lost compare is re-read and
	// re-applied before ErrChallengeConflict is returned.
	ConflictRetries int
	Now             func() time.Time
	Logger          *slog.Logger
}

// ChallengeStore persists at most one outstanding challenge per
// (account, purpose) and validates submissions exactly once.
type ChallengeStore struct {
	adapter persist.Adapter
	retries int
	now     func() time.Time
	logger  *slog.Logger
}

// NewChallengeStore returns a store over adapter. Timestamps are kept at
// millisecond precision in UTC.
func NewChallengeStore(adapter persist.Adapter, cfg ChallengeStoreConfig) *ChallengeStore {
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	clock := cfg.Now
	return &ChallengeStore{
		adapter: adapter,
		retries: cfg.ConflictRetries,
		// Records keep milliseconds, so stamps are taken at that precision.
		now: func() time.Time {
			return time.UnixMilli(clock().UnixMilli()).UTC()
		},
		logger: cfg.Logger,
	}
}

func challengeKey(accountID string, purpose uint8) string {
	return challengeKeyPrefix + strconv.Itoa(int(purpose)) + ":" + accountID
}

func mapAdapterError(err error) error {
	return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
}

// load returns the raw and decoded record. A missing record yields (nil, nil, nil).
// A malformed record yields its raw bytes and ErrMalformedRecord.
func (s *ChallengeStore) load(ctx context.Context, key string) ([]byte, *Challenge, error) {
	raw, err := s.adapter.Get(ctx, key)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, mapAdapterError(err)
	}
	c, err := decodeChallenge(raw)
	if err != nil {
		return raw, nil, err
	}
	return raw, c, nil
}

func (s *ChallengeStore) discard(ctx context.Context, key string, raw []byte, reason string) {
	if _, err := s.adapter.CompareAndDelete(ctx, key, raw); err != nil {
		s.logger.Warn("challenge discard failed", "key", key, "reason", reason, "error", err)
	}
}

// Issue stores a new challenge for (accountID, purpose). An outstanding live
// challenge is replaced when supersede is true and rejected with
// ErrChallengeOutstanding otherwise.
func (s *ChallengeStore) Issue(
	ctx context.Context,
	accountID string,
	purpose uint8,
	digest [32]byte,
	ttl time.Duration,
	supersede bool,
) (*Challenge, error) {
	if ttl <= 0 {
		return nil, errors.New("challenge ttl must be > 0")
	}
	key := challengeKey(accountID, purpose)

	for attempt := 0; attempt <= s.retries; attempt++ {
		raw, current, err := s.load(ctx, key)
		if err != nil && !errors.Is(err, ErrMalformedRecord) {
			return nil, err
		}
		if errors.Is(err, ErrMalformedRecord) {
			s.logger.Warn("overwriting malformed challenge record", "key", key, "error", err)
		}

		now := s.now()
		if current != nil && !supersede && now.Before(current.ExpiresAt) {
			return nil, ErrChallengeOutstanding
		}

		next := &Challenge{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Purpose:   purpose,
			Digest:    digest,
			IssuedAt:  now,
			ExpiresAt: now.Add(ttl).Truncate(time.Millisecond),
		}
		encoded, err := encodeChallenge(next)
		if err != nil {
			return nil, err
		}

		ok, err := s.adapter.CompareAndSwap(ctx, key, raw, encoded, ttl)
		if err != nil {
			return nil, mapAdapterError(err)
		}
		if ok {
			return next, nil
		}
	}
	return nil, ErrChallengeConflict
}

// Validate checks digest against the outstanding challenge. On match the
// record is removed with compare-and-delete, so among concurrent callers
// holding the right code exactly one observes OutcomeValid. On mismatch the
// attempt counter is advanced; the attempt that reaches maxAttempts removes
// the record.
func (s *ChallengeStore) Validate(
	ctx context.Context,
	accountID string,
	purpose uint8,
	digest [32]byte,
	maxAttempts int,
) (Outcome, *Challenge, error) {
	key := challengeKey(accountID, purpose)

	for attempt := 0; attempt <= s.retries; attempt++ {
		raw, c, err := s.load(ctx, key)
		if err != nil {
			if errors.Is(err, ErrMalformedRecord) {
				s.logger.Error("discarding malformed challenge record", "key", key, "error", err)
				s.discard(ctx, key, raw, "malformed")
				return OutcomeMalformed, nil, nil
			}
			return 0, nil, err
		}
		if c == nil {
			return OutcomeNotFound, nil, nil
		}
		if c.AccountID != accountID || c.Purpose != purpose {
			s.logger.Error("discarding challenge stored under foreign key", "key", key, "challenge_id", c.ID)
			s.discard(ctx, key, raw, "key_mismatch")
			return OutcomeMalformed, nil, nil
		}

		now := s.now()
		if !c.LiveAt(now, maxAttempts) {
			reason := "expired"
			if now.Before(c.ExpiresAt) {
				reason = "attempts_exhausted"
			}
			s.discard(ctx, key, raw, reason)
			return OutcomeExpired, c, nil
		}

		if internal.DigestEqual(c.Digest, digest) {
			ok, err := s.adapter.CompareAndDelete(ctx, key, raw)
			if err != nil {
				return 0, nil, mapAdapterError(err)
			}
			if ok {
				c.Attempts++
				return OutcomeValid, c, nil
			}
			continue
		}

		c.Attempts++
		if int(c.Attempts) >= maxAttempts {
			ok, err := s.adapter.CompareAndDelete(ctx, key, raw)
			if err != nil {
				return 0, nil, mapAdapterError(err)
			}
			if ok {
				return OutcomeAttemptsExceeded, c, nil
			}
			continue
		}

		encoded, err := encodeChallenge(c)
		if err != nil {
			return 0, nil, err
		}
		ok, err := s.adapter.CompareAndSwap(ctx, key, raw, encoded, c.ExpiresAt.Sub(now))
		if err != nil {
			return 0, nil, mapAdapterError(err)
		}
		if ok {
			return OutcomeInvalid, c, nil
		}
	}
	return 0, nil, ErrChallengeConflict
}

// Discard removes the outstanding challenge for (accountID, purpose), if any.
func (s *ChallengeStore) Discard(ctx context.Context, accountID string, purpose uint8) error {
	if err := s.adapter.Delete(ctx, challengeKey(accountID, purpose)); err != nil {
		return mapAdapterError(err)
	}
	return nil
}

// SweepExpired removes every challenge past its expiry, plus undecodable
// records. Deletes are compare-and-delete against the value read, so a
// challenge re-issued during the sweep is left alone.
func (s *ChallengeStore) SweepExpired(ctx context.Context) (int, error) {
	scanner, ok := s.adapter.(persist.Scanner)
	if !ok {
		return 0, ErrSweepUnsupported
	}

	now := s.now()
	removed := 0
	err := scanner.Scan(ctx, challengeKeyPrefix, func(key string, raw []byte) error {
		c, err := decodeChallenge(raw)
		if err == nil && now.Before(c.ExpiresAt) {
			return nil
		}
		if err != nil {
			s.logger.Error("sweeping malformed challenge record", "key", key, "error", err)
		}
		deleted, delErr := s.adapter.CompareAndDelete(ctx, key, raw)
		if delErr != nil {
			return mapAdapterError(delErr)
		}
		if deleted {
			removed++
		}
		return nil
	})
	if errors.Is(err, errors.ErrUnsupported) {
		return removed, ErrSweepUnsupported
	}
	if err != nil && !errors.Is(err, ErrChallengeUnavailable) {
		err = mapAdapterError(err)
	}
	return removed, err
}
