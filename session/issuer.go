package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/persist"
	"github.com/oklog/ulid/v2"
)

const (
	sessionKeyPrefix = "sess:"
	indexKeyPrefix   = "sidx:"
	markerKeyPrefix  = "acct-rev:"

	// maxIndexEntries caps the per-account index. Issuing beyond it evicts
	// the oldest session.
	maxIndexEntries = 1024
	// indexUpdateAttempts bounds the CAS loop on the per-account index,
	// which sees contention whenever one account signs in concurrently.
	indexUpdateAttempts = 16
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrRevoked     = errors.New("session revoked")
	ErrExpired     = errors.New("session expired")
	ErrConflict    = errors.New("session write conflict")
	ErrUnavailable = errors.New("session store unavailable")
)

// Config configures an Issuer.
type Config struct {
	TTL time.Duration
	// IdleTimeout expires a session not seen for this long. Zero disables it.
	IdleTimeout time.Duration
	// TouchInterval throttles LastSeenAt writes. Zero disables touching.
	TouchInterval time.Duration
	// MaxPerAccount evicts the oldest sessions beyond this count. Zero means
	// no limit other than the index cap.
	MaxPerAccount   int
	ConflictRetries int
	Now             func() time.Time
	Logger          *slog.Logger
}

// Issuer mints and resolves sessions.
type Issuer struct {
	adapter persist.Adapter
	keys    *internal.Keyring
	ttl     time.Duration
	idle    time.Duration
	touch   time.Duration
	maxPer  int
	retries int
	now     func() time.Time
	logger  *slog.Logger
}

// NewIssuer validates cfg and returns an issuer storing sessions in adapter.
func NewIssuer(adapter persist.Adapter, keys *internal.Keyring, cfg Config) (*Issuer, error) {
	if adapter == nil || keys == nil {
		return nil, errors.New("session issuer requires an adapter and a keyring")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("session ttl must be > 0")
	}
	if cfg.IdleTimeout < 0 || cfg.TouchInterval < 0 || cfg.MaxPerAccount < 0 {
		return nil, errors.New("session limits must be >= 0")
	}
	if cfg.MaxPerAccount == 0 || cfg.MaxPerAccount > maxIndexEntries {
		cfg.MaxPerAccount = maxIndexEntries
	}
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Issuer{
		adapter: adapter,
		keys:    keys,
		ttl:     cfg.TTL,
		idle:    cfg.IdleTimeout,
		touch:   cfg.TouchInterval,
		maxPer:  cfg.MaxPerAccount,
		retries: cfg.ConflictRetries,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}, nil
}

func sessionKey(digest [32]byte) string {
	return sessionKeyPrefix + hex.EncodeToString(digest[:])
}

func indexKey(accountID string) string { return indexKeyPrefix + accountID }

func markerKey(accountID string) string { return markerKeyPrefix + accountID }

func mapAdapterError(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// clock returns now truncated to the millisecond precision of the records.
func (i *Issuer) clock() time.Time {
	return time.UnixMilli(i.now().UnixMilli()).UTC()
}

// Issue creates and persists a session for accountID. Other sessions of the
// account stay valid unless single is set, in which case they are revoked.
func (i *Issuer) Issue(ctx context.Context, accountID string, single bool) (*Session, error) {
	if accountID == "" {
		return nil, errors.New("account id required")
	}

	token, err := internal.NewSessionToken()
	if err != nil {
		return nil, err
	}
	now := i.clock()
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	s := &Session{
		ID:         id.String(),
		AccountID:  accountID,
		Token:      token,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(i.ttl),
		digest:     i.keys.TokenDigest(token),
	}
	entry := indexEntry{ID: id, Digest: s.digest, ExpiresAt: s.ExpiresAt.UnixMilli()}

	evicted, err := i.updateIndex(ctx, accountID, func(live []indexEntry) ([]indexEntry, []indexEntry) {
		keep := i.maxPer - 1
		if single {
			keep = 0
		}
		var removed []indexEntry
		if len(live) > keep {
			// live is in issue order, so the head is the oldest.
			removed = live[:len(live)-keep]
			live = live[len(live)-keep:]
		}
		return append(live, entry), removed
	})
	if err != nil {
		return nil, err
	}
	for n, e := range evicted {
		if err := i.revokeDigest(ctx, e.Digest, false); err != nil {
			i.restoreIndex(ctx, accountID, entry.ID, evicted[n:])
			return nil, fmt.Errorf("revoke prior session %s: %w", e.ID, err)
		}
	}

	encoded, err := encodeSession(s)
	if err != nil {
		return nil, err
	}
	ok, err := i.adapter.CompareAndSwap(ctx, sessionKey(s.digest), nil, encoded, i.ttl)
	if err != nil {
		return nil, mapAdapterError(err)
	}
	if !ok {
		return nil, ErrConflict
	}

	i.logger.Debug("session issued",
		"session_id", s.ID,
		"account_id", accountID,
		"single", single,
		"evicted", len(evicted),
	)
	return s, nil
}

type loaded struct {
	key     string
	raw     []byte
	session *Session
}

// lookup resolves token to its stored record with a single read. Malformed
// records are discarded and reported as ErrNotFound.
func (i *Issuer) lookup(ctx context.Context, token string) (*loaded, error) {
	if !internal.IsSessionToken(token) {
		return nil, ErrNotFound
	}
	return i.lookupDigest(ctx, i.keys.TokenDigest(token))
}

func (i *Issuer) lookupDigest(ctx context.Context, digest [32]byte) (*loaded, error) {
	key := sessionKey(digest)
	raw, err := i.adapter.Get(ctx, key)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, mapAdapterError(err)
	}

	s, err := decodeSession(raw)
	if err == nil && !internal.DigestEqual(s.digest, digest) {
		err = malformed("digest does not match key")
	}
	if err != nil {
		i.logger.Error("discarding malformed session record", "error", err)
		if _, delErr := i.adapter.CompareAndDelete(ctx, key, raw); delErr != nil {
			i.logger.Warn("session discard failed", "error", delErr)
		}
		return nil, ErrNotFound
	}
	return &loaded{key: key, raw: raw, session: s}, nil
}

// revokedBefore returns the account deactivation marker, or the zero time.
func (i *Issuer) revokedBefore(ctx context.Context, accountID string) (time.Time, error) {
	raw, err := i.adapter.Get(ctx, markerKey(accountID))
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, mapAdapterError(err)
	}
	at, err := decodeMarker(raw)
	if err != nil {
		// Fail closed: an unreadable marker revokes everything issued so far.
		i.logger.Error("malformed deactivation marker", "account_id", accountID, "error", err)
		return i.clock(), nil
	}
	return at, nil
}

func coveredByMarker(s *Session, marker time.Time) bool {
	return !marker.IsZero() && !s.CreatedAt.After(marker)
}

// Validate resolves token with one record read plus one marker read. It
// returns ErrNotFound, ErrRevoked or ErrExpired for unusable tokens.
func (i *Issuer) Validate(ctx context.Context, token string) (*Session, error) {
	l, err := i.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	s := l.session

	now := i.clock()
	switch s.StateAt(now, i.idle) {
	case StateRevoked:
		return nil, ErrRevoked
	case StateExpired:
		return nil, ErrExpired
	}

	marker, err := i.revokedBefore(ctx, s.AccountID)
	if err != nil {
		return nil, err
	}
	if coveredByMarker(s, marker) {
		return nil, ErrRevoked
	}

	i.touchLoaded(ctx, l, now)
	return s, nil
}

// Touch records activity on token. It is throttled by TouchInterval and
// best effort: a lost compare is not retried.
func (i *Issuer) Touch(ctx context.Context, token string) error {
	l, err := i.lookup(ctx, token)
	if err != nil {
		return err
	}
	now := i.clock()
	if l.session.StateAt(now, i.idle) != StateActive {
		return nil
	}
	i.touchLoaded(ctx, l, now)
	return nil
}

func (i *Issuer) touchLoaded(ctx context.Context, l *loaded, now time.Time) {
	s := l.session
	if i.touch <= 0 || now.Sub(s.LastSeenAt) < i.touch {
		return
	}

	next := *s
	next.LastSeenAt = now
	encoded, err := encodeSession(&next)
	if err != nil {
		return
	}
	ok, err := i.adapter.CompareAndSwap(ctx, l.key, l.raw, encoded, s.ExpiresAt.Sub(now))
	if err != nil {
		i.logger.Debug("session touch failed", "session_id", s.ID, "error", err)
		return
	}
	if ok {
		s.LastSeenAt = now
	}
}

// Revoke marks the session behind token revoked. Revoking an absent,
// expired or already revoked session is not an error.
func (i *Issuer) Revoke(ctx context.Context, token string) error {
	if !internal.IsSessionToken(token) {
		return nil
	}
	return i.revokeDigest(ctx, i.keys.TokenDigest(token), true)
}

// revokeDigest flips the revoked flag and keeps the record as a tombstone
// until its natural expiry, so Validate reports ErrRevoked rather than
// ErrNotFound for it.
func (i *Issuer) revokeDigest(ctx context.Context, digest [32]byte, unindex bool) error {
	for attempt := 0; attempt <= i.retries; attempt++ {
		l, err := i.lookupDigest(ctx, digest)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		s := l.session
		if s.Revoked {
			return nil
		}

		now := i.clock()
		if !now.Before(s.ExpiresAt) {
			if _, err := i.adapter.CompareAndDelete(ctx, l.key, l.raw); err != nil {
				return mapAdapterError(err)
			}
			return nil
		}

		s.Revoked = true
		encoded, err := encodeSession(s)
		if err != nil {
			return err
		}
		ok, err := i.adapter.CompareAndSwap(ctx, l.key, l.raw, encoded, s.ExpiresAt.Sub(now))
		if err != nil {
			return mapAdapterError(err)
		}
		if !ok {
			continue
		}

		i.logger.Debug("session revoked", "session_id", s.ID, "account_id", s.AccountID)
		if unindex {
			id := ulid.MustParse(s.ID)
			if _, err := i.updateIndex(ctx, s.AccountID, removeByID(id)); err != nil {
				i.logger.Warn("session index cleanup failed", "session_id", s.ID, "error", err)
			}
		}
		return nil
	}
	return ErrConflict
}

// restoreIndex undoes an eviction that could not finish: the entries whose
// sessions are still live go back into the index and the entry of the session
// that was never stored is dropped.
func (i *Issuer) restoreIndex(ctx context.Context, accountID string, drop ulid.ULID, back []indexEntry) {
	_, err := i.updateIndex(ctx, accountID, func(live []indexEntry) ([]indexEntry, []indexEntry) {
		next := make([]indexEntry, 0, len(live)+len(back))
		seen := make(map[ulid.ULID]struct{}, len(live))
		for _, e := range live {
			if e.ID == drop {
				continue
			}
			seen[e.ID] = struct{}{}
			next = append(next, e)
		}
		for _, e := range back {
			if _, ok := seen[e.ID]; !ok {
				next = append(next, e)
			}
		}
		slices.SortFunc(next, func(a, b indexEntry) int { return a.ID.Compare(b.ID) })
		return next, nil
	})
	if err != nil {
		i.logger.Error("session index restore failed", "account_id", accountID, "entries", len(back), "error", err)
	}
}

func removeByID(id ulid.ULID) func([]indexEntry) ([]indexEntry, []indexEntry) {
	return func(live []indexEntry) ([]indexEntry, []indexEntry) {
		next := live[:0]
		var removed []indexEntry
		for _, e := range live {
			if e.ID == id {
				removed = append(removed, e)
				continue
			}
			next = append(next, e)
		}
		return next, removed
	}
}

// RevokeByID revokes one session of accountID by its public ID. It reports
// whether the ID was found in the account's index.
func (i *Issuer) RevokeByID(ctx context.Context, accountID, sessionID string) (bool, error) {
	id, err := ulid.ParseStrict(sessionID)
	if err != nil {
		return false, nil
	}
	removed, err := i.updateIndex(ctx, accountID, removeByID(id))
	if err != nil {
		return false, err
	}
	if len(removed) == 0 {
		return false, nil
	}
	return true, i.revokeDigest(ctx, removed[0].Digest, false)
}

// RevokeAll revokes every indexed session of accountID and returns how many
// index entries were cleared.
func (i *Issuer) RevokeAll(ctx context.Context, accountID string) (int, error) {
	removed, err := i.updateIndex(ctx, accountID, func(live []indexEntry) ([]indexEntry, []indexEntry) {
		return nil, live
	})
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, e := range removed {
		if err := i.revokeDigest(ctx, e.Digest, false); err != nil {
			errs = append(errs, err)
		}
	}
	return len(removed), errors.Join(errs...)
}

// RevokeAccount writes the deactivation marker, which revokes every session
// created up to now even if it is missing from the index, then revokes the
// indexed sessions eagerly.
func (i *Issuer) RevokeAccount(ctx context.Context, accountID string) (int, error) {
	now := i.clock()
	// Sessions older than one TTL are expired anyway, so the marker can lapse then.
	if err := i.adapter.Put(ctx, markerKey(accountID), encodeMarker(now), i.ttl); err != nil {
		return 0, mapAdapterError(err)
	}
	i.logger.Info("account sessions revoked", "account_id", accountID)
	return i.RevokeAll(ctx, accountID)
}

// loadIndex returns the decoded index and its raw bytes. A malformed index is
// logged and treated as empty so the next write replaces it.
func (i *Issuer) loadIndex(ctx context.Context, accountID string) ([]indexEntry, []byte, error) {
	raw, err := i.adapter.Get(ctx, indexKey(accountID))
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, mapAdapterError(err)
	}
	entries, err := decodeIndex(raw)
	if err != nil {
		i.logger.Error("malformed session index", "account_id", accountID, "error", err)
		return nil, raw, nil
	}
	return entries, raw, nil
}

// updateIndex applies mutate to the live entries of the account index with
// compare-and-swap. mutate returns the next entry list and the entries it
// removed; expired entries are pruned before mutate sees them.
func (i *Issuer) updateIndex(
	ctx context.Context,
	accountID string,
	mutate func(live []indexEntry) (next, removed []indexEntry),
) ([]indexEntry, error) {
	key := indexKey(accountID)

	for attempt := 0; attempt < indexUpdateAttempts; attempt++ {
		entries, raw, err := i.loadIndex(ctx, accountID)
		if err != nil {
			return nil, err
		}

		now := i.clock()
		nowMs := now.UnixMilli()
		live := make([]indexEntry, 0, len(entries)+1)
		for _, e := range entries {
			if e.ExpiresAt > nowMs {
				live = append(live, e)
			}
		}

		next, removed := mutate(live)

		var ok bool
		if len(next) == 0 {
			if raw == nil {
				return removed, nil
			}
			ok, err = i.adapter.CompareAndDelete(ctx, key, raw)
		} else {
			var latest int64
			for _, e := range next {
				latest = max(latest, e.ExpiresAt)
			}
			ok, err = i.adapter.CompareAndSwap(ctx, key, raw, encodeIndex(next), time.UnixMilli(latest).Sub(now))
		}
		if err != nil {
			return nil, mapAdapterError(err)
		}
		if ok {
			return removed, nil
		}
	}
	return nil, ErrConflict
}
