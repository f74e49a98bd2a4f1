package goAccount

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goAccount/internal/limiters"
	"github.com/MrEthical07/goAccount/internal/stores"
	"github.com/MrEthical07/goAccount/mail"
)

// StartVerification issues a fresh code for (accountID, purpose) and mails
// it. Unknown accounts, and accounts whose status does not fit the purpose,
// get a nil error and no mail, so the result never reveals whether an
// account exists.
//
// On ErrTransportFailure the challenge is stored and valid and the request
// cooldown has been released, so the caller may offer an immediate resend.
func (e *Engine) StartVerification(ctx context.Context, accountID string, purpose Purpose, opts ...StartOption) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	policy, err := e.policy(purpose)
	if err != nil {
		return err
	}
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}

	p := uint8(purpose)
	guardPolicy := policy.guardPolicy()

	decision, retryAfter, err := e.guard.CheckAndRecord(ctx, accountID, p, guardPolicy)
	if err != nil {
		mapped := mapGuardError(err)
		e.emitAudit(ctx, auditEventVerificationRequest, false, accountID, purpose, "", mapped, nil)
		return mapped
	}
	switch decision {
	case limiters.RateLimited:
		rl := &RateLimitError{Err: ErrRateLimited, RetryAfter: retryAfter}
		e.emitRateLimit(ctx, "start", accountID, purpose, rl)
		return rl
	case limiters.LockedOut:
		rl := &RateLimitError{Err: ErrLockedOut, RetryAfter: retryAfter}
		e.emitRateLimit(ctx, "start", accountID, purpose, rl)
		return rl
	}

	account, err := e.identity.LookupAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.suppressed(ctx, accountID, purpose, "unknown_account")
			return nil
		}
		e.releaseRequest(ctx, accountID, p, guardPolicy)
		return fmt.Errorf("lookup account: %w", err)
	}
	if account.Status != policy.RequireStatus {
		e.suppressed(ctx, accountID, purpose, "ineligible_status")
		return nil
	}

	to := account.Email
	if o.recipient != "" {
		to = o.recipient
	}
	if err := e.dispatcher.CheckRecipient(to); err != nil {
		e.releaseRequest(ctx, accountID, p, guardPolicy)
		e.emitAudit(ctx, auditEventVerificationRequest, false, accountID, purpose, "", ErrRecipientRejected, nil)
		return ErrRecipientRejected
	}

	code, digest, err := e.codes.Generate(policy.codePolicy(), accountID, p)
	if err != nil {
		e.releaseRequest(ctx, accountID, p, guardPolicy)
		return fmt.Errorf("generate code: %w", err)
	}

	challenge, err := e.challenges.Issue(ctx, accountID, p, digest, policy.TTL, policy.OnOutstanding == Supersede)
	if err != nil {
		mapped := mapStoreError(err)
		if errors.Is(mapped, ErrPersistenceConflict) {
			e.metricInc(MetricPersistenceConflict)
		}
		e.releaseRequest(ctx, accountID, p, guardPolicy)
		e.emitAudit(ctx, auditEventVerificationRequest, false, accountID, purpose, "", mapped, nil)
		return mapped
	}

	if err := e.dispatcher.Send(ctx, to, purpose.String(), code, policy.TTL); err != nil {
		e.releaseRequest(ctx, accountID, p, guardPolicy)
		e.metricInc(MetricTransportFailure)
		e.logger.Warn("verification mail failed",
			"account_id", accountID,
			"purpose", purpose.String(),
			"challenge_id", challenge.ID,
			"error", err,
		)
		e.emitAudit(ctx, auditEventVerificationDelivery, false, accountID, purpose, "", ErrTransportFailure, func() map[string]string {
			return map[string]string{"challenge_id": challenge.ID}
		})
		if errors.Is(err, mail.ErrRecipientRejected) {
			return ErrRecipientRejected
		}
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	e.metricInc(MetricVerificationStarted)
	e.emitAudit(ctx, auditEventVerificationRequest, true, accountID, purpose, "", nil, func() map[string]string {
		return map[string]string{
			"challenge_id": challenge.ID,
			"expires_at":   challenge.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
	})
	return nil
}

func (e *Engine) suppressed(ctx context.Context, accountID string, purpose Purpose, reason string) {
	e.metricInc(MetricVerificationSuppressed)
	e.emitAudit(ctx, auditEventVerificationRequest, true, accountID, purpose, "", nil, func() map[string]string {
		return map[string]string{
			"enumeration_safe": "true",
			"noop":             reason,
		}
	})
}

// releaseRequest gives back the request slot taken by CheckAndRecord when
// no code reached the user.
func (e *Engine) releaseRequest(ctx context.Context, accountID string, purpose uint8, policy limiters.GuardPolicy) {
	if err := e.guard.Forgive(context.WithoutCancel(ctx), accountID, purpose, policy); err != nil {
		e.logger.Warn("attempt guard release failed", "account_id", accountID, "purpose", purpose, "error", err)
	}
}

// ConfirmVerification checks code against the outstanding challenge for
// (accountID, purpose). A matching code is consumed exactly once: among
// concurrent callers submitting it, one succeeds and the rest get
// ErrVerificationInvalid. The wrong code that uses up the last attempt also
// gets ErrVerificationInvalid; only the audit event records it as
// attempts_exceeded.
//
// When the purpose policy has IssueSession, a session is minted and
// returned. The mint is detached from ctx cancellation so a consumed code
// is never left without its session.
func (e *Engine) ConfirmVerification(ctx context.Context, accountID string, purpose Purpose, code string) (*Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	policy, err := e.policy(purpose)
	if err != nil {
		return nil, err
	}
	p := uint8(purpose)

	if !e.ipLimiter.Allow(clientIPFromContext(ctx)) || !e.confirmLimiter.Allow(purpose.String()+":"+accountID) {
		e.emitRateLimit(ctx, "confirm", accountID, purpose, ErrRateLimited)
		return nil, ErrRateLimited
	}

	locked, retryAfter, err := e.guard.LockedOut(ctx, accountID, p)
	if err != nil {
		return nil, mapGuardError(err)
	}
	if locked {
		rl := &RateLimitError{Err: ErrLockedOut, RetryAfter: retryAfter}
		e.emitRateLimit(ctx, "confirm", accountID, purpose, rl)
		return nil, rl
	}

	if !e.codes.WellFormed(policy.codePolicy(), code) {
		e.metricInc(MetricVerificationInvalid)
		e.emitAudit(ctx, auditEventVerificationConfirm, false, accountID, purpose, "", ErrVerificationInvalid, func() map[string]string {
			return map[string]string{"reason": "malformed_code"}
		})
		return nil, ErrVerificationInvalid
	}

	digest := e.codes.Digest(accountID, p, code)
	outcome, challenge, err := e.challenges.Validate(ctx, accountID, p, digest, policy.MaxAttempts)
	if err != nil {
		mapped := mapStoreError(err)
		if errors.Is(mapped, ErrPersistenceConflict) {
			e.metricInc(MetricPersistenceConflict)
		}
		e.emitAudit(ctx, auditEventVerificationConfirm, false, accountID, purpose, "", mapped, nil)
		return nil, mapped
	}

	switch outcome {
	case stores.OutcomeValid:
	case stores.OutcomeAttemptsExceeded:
		e.metricInc(MetricAttemptsExceeded)
		lockedNow, strikeErr := e.guard.Strike(context.WithoutCancel(ctx), accountID, p, policy.guardPolicy())
		if strikeErr != nil {
			e.logger.Warn("attempt guard strike failed", "account_id", accountID, "purpose", purpose.String(), "error", strikeErr)
		}
		e.emitAudit(ctx, auditEventVerificationConfirm, false, accountID, purpose, "", ErrAttemptsExceeded, func() map[string]string {
			return map[string]string{
				"challenge_id": challenge.ID,
				"locked":       fmt.Sprint(lockedNow),
			}
		})
		return nil, ErrVerificationInvalid
	default:
		if outcome == stores.OutcomeMalformed {
			e.emitAudit(ctx, auditEventMalformedRecord, false, accountID, purpose, "", nil, nil)
		}
		e.metricInc(MetricVerificationInvalid)
		e.emitAudit(ctx, auditEventVerificationConfirm, false, accountID, purpose, "", ErrVerificationInvalid, func() map[string]string {
			return map[string]string{"reason": outcome.String()}
		})
		return nil, ErrVerificationInvalid
	}

	detached := context.WithoutCancel(ctx)
	if err := e.guard.Clear(detached, accountID, p, policy.guardPolicy()); err != nil {
		e.logger.Warn("attempt guard clear failed", "account_id", accountID, "purpose", purpose.String(), "error", err)
	}
	e.metricInc(MetricVerificationConfirmed)
	e.emitAudit(ctx, auditEventVerificationConfirm, true, accountID, purpose, "", nil, func() map[string]string {
		return map[string]string{"challenge_id": challenge.ID}
	})

	if !policy.IssueSession {
		return nil, nil
	}
	return e.mintSession(detached, accountID, policy.SingleSession)
}

// ResetVerificationLimits clears the request throttle and any lockout for
// (accountID, purpose) and discards the outstanding challenge, if any. It is
// meant for support tooling after the owner's identity was checked out of
// band.
func (e *Engine) ResetVerificationLimits(ctx context.Context, accountID string, purpose Purpose) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if _, err := e.policy(purpose); err != nil {
		return err
	}
	p := uint8(purpose)

	err := errors.Join(
		mapGuardError(e.guard.Reset(ctx, accountID, p)),
		mapStoreError(e.challenges.Discard(ctx, accountID, p)),
	)
	e.emitAudit(ctx, auditEventVerificationReset, err == nil, accountID, purpose, "", err, nil)
	return err
}
