package goAccount

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/internal/limiters"
	"github.com/MrEthical07/goAccount/internal/stores"
	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/persist"
	"github.com/MrEthical07/goAccount/session"
)

// Engine is the verification and session issuance engine. Build one with
// New().With...().Build().
type Engine struct {
	config         Config
	adapter        persist.Adapter
	identity       IdentityProvider
	codes          *internal.CodeGenerator
	challenges     *stores.ChallengeStore
	guard          *limiters.AttemptGuard
	confirmLimiter *limiters.Advisory
	ipLimiter      *limiters.Advisory
	dispatcher     *mail.Dispatcher
	sessions       *session.Issuer
	audit          *auditDispatcher
	metrics        *Metrics
	logger         *slog.Logger
	now            func() time.Time
}

// Close flushes pending audit events. It does not close the adapter.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the counters. It is empty when metrics
// are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the backend when it supports health checks.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.adapter == nil {
		return ErrEngineNotReady
	}
	p, ok := e.adapter.(persist.Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) policy(p Purpose) (PurposePolicy, error) {
	policy, ok := e.config.Purposes[p]
	if !ok {
		return PurposePolicy{}, ErrUnknownPurpose
	}
	return policy, nil
}

func (e *Engine) ready() bool {
	return e != nil && e.challenges != nil && e.guard != nil && e.sessions != nil
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrChallengeOutstanding):
		return ErrChallengeOutstanding
	case errors.Is(err, stores.ErrChallengeConflict):
		return ErrPersistenceConflict
	case errors.Is(err, stores.ErrChallengeUnavailable):
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

func mapGuardError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrGuardConflict):
		return ErrPersistenceConflict
	case errors.Is(err, limiters.ErrGuardUnavailable):
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

func mapSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrRevoked),
		errors.Is(err, session.ErrExpired):
		return ErrSessionInvalid
	case errors.Is(err, session.ErrConflict):
		return ErrPersistenceConflict
	case errors.Is(err, session.ErrUnavailable):
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

func toSession(s *session.Session) *Session {
	if s == nil {
		return nil
	}
	return &Session{
		ID:         s.ID,
		AccountID:  s.AccountID,
		Token:      s.Token,
		CreatedAt:  s.CreatedAt,
		LastSeenAt: s.LastSeenAt,
		ExpiresAt:  s.ExpiresAt,
	}
}
