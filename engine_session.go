package goAccount

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/MrEthical07/goAccount/internal/stores"
	"github.com/MrEthical07/goAccount/persist"
)

// CreateSession mints a session for an active account outside of a
// verification flow, for example after a password login handled elsewhere.
func (e *Engine) CreateSession(ctx context.Context, accountID string, opts ...SessionOption) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}

	account, err := e.identity.LookupAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.emitAudit(ctx, auditEventSessionCreated, false, accountID, 0, "", ErrAccountNotFound, nil)
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if account.Status != AccountActive {
		e.emitAudit(ctx, auditEventSessionCreated, false, accountID, 0, "", ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}
	return e.mintSession(ctx, accountID, o.single)
}

func (e *Engine) mintSession(ctx context.Context, accountID string, single bool) (*Session, error) {
	s, err := e.sessions.Issue(ctx, accountID, single)
	if err != nil {
		mapped := mapSessionError(err)
		if errors.Is(mapped, ErrPersistenceConflict) {
			e.metricInc(MetricPersistenceConflict)
		}
		e.emitAudit(ctx, auditEventSessionCreated, false, accountID, 0, "", mapped, nil)
		return nil, mapped
	}
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, accountID, 0, s.ID, nil, func() map[string]string {
		return map[string]string{"single": fmt.Sprint(single)}
	})
	return toSession(s), nil
}

// Authenticate resolves a bearer token to its account ID.
func (e *Engine) Authenticate(ctx context.Context, token string) (string, error) {
	s, err := e.AuthenticateSession(ctx, token)
	if err != nil {
		return "", err
	}
	return s.AccountID, nil
}

// AuthenticateSession is Authenticate returning the whole session. Token is
// left empty.
func (e *Engine) AuthenticateSession(ctx context.Context, token string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	s, err := e.sessions.Validate(ctx, token)
	e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return nil, mapSessionError(err)
	}
	e.metricInc(MetricAuthenticateSuccess)
	return toSession(s), nil
}

// TouchSession records activity on token without returning the session.
// Writes are throttled by SessionConfig.TouchInterval.
func (e *Engine) TouchSession(ctx context.Context, token string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return mapSessionError(e.sessions.Touch(ctx, token))
}

// RevokeSession ends the session behind token. Revoking an unknown, already
// revoked or expired session succeeds, so the call is idempotent.
func (e *Engine) RevokeSession(ctx context.Context, token string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.sessions.Revoke(ctx, token); err != nil {
		mapped := mapSessionError(err)
		e.emitAudit(ctx, auditEventSessionRevoked, false, "", 0, "", mapped, nil)
		return mapped
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, "", 0, "", nil, nil)
	return nil
}

// RevokeSessionByID ends one session of accountID by its public ID, as
// listed by ListActiveSessions.
func (e *Engine) RevokeSessionByID(ctx context.Context, accountID, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	found, err := e.sessions.RevokeByID(ctx, accountID, sessionID)
	if err != nil {
		mapped := mapSessionError(err)
		e.emitAudit(ctx, auditEventSessionRevoked, false, accountID, 0, sessionID, mapped, nil)
		return mapped
	}
	if !found {
		return ErrSessionInvalid
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, accountID, 0, sessionID, nil, nil)
	return nil
}

// RevokeAllSessions ends every indexed session of accountID and reports how
// many were active.
func (e *Engine) RevokeAllSessions(ctx context.Context, accountID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.RevokeAll(ctx, accountID)
	if err != nil {
		mapped := mapSessionError(err)
		e.emitAudit(ctx, auditEventSessionsRevokedAll, false, accountID, 0, "", mapped, nil)
		return n, mapped
	}
	e.metrics.Add(MetricSessionRevoked, uint64(n))
	e.emitAudit(ctx, auditEventSessionsRevokedAll, true, accountID, 0, "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return n, nil
}

// ListActiveSessions yields the active sessions of accountID, oldest first.
// Tokens are never included.
func (e *Engine) ListActiveSessions(ctx context.Context, accountID string) iter.Seq2[*Session, error] {
	return func(yield func(*Session, error) bool) {
		if !e.ready() {
			yield(nil, ErrEngineNotReady)
			return
		}
		for s, err := range e.sessions.ListActive(ctx, accountID) {
			if err != nil {
				yield(nil, mapSessionError(err))
				return
			}
			if !yield(toSession(s), nil) {
				return
			}
		}
	}
}

// HandleAccountDeactivated revokes every session of accountID, indexed or
// not, and discards its outstanding challenges. Call it when the identity
// system disables or deletes the account.
func (e *Engine) HandleAccountDeactivated(ctx context.Context, accountID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	n, err := e.sessions.RevokeAccount(ctx, accountID)
	if err != nil {
		mapped := mapSessionError(err)
		e.emitAudit(ctx, auditEventAccountDeactivated, false, accountID, 0, "", mapped, nil)
		return mapped
	}

	var errs []error
	for purpose := range e.config.Purposes {
		if err := e.challenges.Discard(ctx, accountID, uint8(purpose)); err != nil {
			errs = append(errs, mapStoreError(err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		e.emitAudit(ctx, auditEventAccountDeactivated, false, accountID, 0, "", err, nil)
		return err
	}

	e.metricInc(MetricAccountDeactivated)
	e.metrics.Add(MetricSessionRevoked, uint64(n))
	e.emitAudit(ctx, auditEventAccountDeactivated, true, accountID, 0, "", nil, func() map[string]string {
		return map[string]string{"sessions_revoked": fmt.Sprint(n)}
	})
	return nil
}

// SweepExpired removes expired challenges and sessions on backends that can
// enumerate keys, then lets the backend purge its own expired rows. Backends
// with native expiry make the enumeration passes no-ops.
func (e *Engine) SweepExpired(ctx context.Context) (SweepResult, error) {
	if !e.ready() {
		return SweepResult{}, ErrEngineNotReady
	}
	var (
		res  SweepResult
		errs []error
		err  error
	)

	res.Challenges, err = e.challenges.SweepExpired(ctx)
	if err != nil && !errors.Is(err, stores.ErrSweepUnsupported) {
		errs = append(errs, fmt.Errorf("sweep challenges: %w", err))
	}
	res.Sessions, err = e.sessions.SweepExpired(ctx)
	if err != nil && !errors.Is(err, errors.ErrUnsupported) {
		errs = append(errs, fmt.Errorf("sweep sessions: %w", err))
	}
	if purger, ok := e.adapter.(persist.Purger); ok {
		res.Purged, err = purger.PurgeExpired(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge expired: %w", err))
		}
	}

	e.metrics.Add(MetricSweepRemoved, uint64(res.Challenges+res.Sessions+res.Purged))
	return res, errors.Join(errs...)
}
