package session

import (
	"context"
	"errors"
	"iter"

	"github.com/MrEthical07/goAccount/persist"
)

// ListActive yields the active sessions of accountID in issue order. The
// index is read once when iteration starts; each session record is read as
// it is reached, so stopping early costs nothing further.
func (i *Issuer) ListActive(ctx context.Context, accountID string) iter.Seq2[*Session, error] {
	return func(yield func(*Session, error) bool) {
		entries, _, err := i.loadIndex(ctx, accountID)
		if err != nil {
			yield(nil, err)
			return
		}
		if len(entries) == 0 {
			return
		}
		marker, err := i.revokedBefore(ctx, accountID)
		if err != nil {
			yield(nil, err)
			return
		}

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			now := i.clock()
			if e.ExpiresAt <= now.UnixMilli() {
				continue
			}
			l, err := i.lookupDigest(ctx, e.Digest)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				yield(nil, err)
				return
			}
			s := l.session
			if s.AccountID != accountID || s.StateAt(now, i.idle) != StateActive || coveredByMarker(s, marker) {
				continue
			}
			if !yield(s, nil) {
				return
			}
		}
	}
}

// SweepExpired deletes session records past their expiry, including revoked
// tombstones, on backends that can enumerate keys.
func (i *Issuer) SweepExpired(ctx context.Context) (int, error) {
	scanner, ok := i.adapter.(persist.Scanner)
	if !ok {
		return 0, errors.ErrUnsupported
	}

	now := i.clock()
	removed := 0
	err := scanner.Scan(ctx, sessionKeyPrefix, func(key string, raw []byte) error {
		s, err := decodeSession(raw)
		if err == nil && now.Before(s.ExpiresAt) {
			return nil
		}
		deleted, err := i.adapter.CompareAndDelete(ctx, key, raw)
		if err != nil {
			return mapAdapterError(err)
		}
		if deleted {
			removed++
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrUnavailable) && !errors.Is(err, errors.ErrUnsupported) {
		err = mapAdapterError(err)
	}
	return removed, err
}
