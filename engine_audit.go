package goAccount

import (
	"context"
	"errors"
)

const (
	auditEventVerificationRequest  = "verification_request"
	auditEventVerificationConfirm  = "verification_confirm"
	auditEventVerificationDelivery = "verification_delivery"
	auditEventVerificationReset    = "verification_reset"
	auditEventSessionCreated       = "session_created"
	auditEventSessionRevoked       = "session_revoked"
	auditEventSessionsRevokedAll   = "sessions_revoked_all"
	auditEventAccountDeactivated   = "account_deactivated"
	auditEventRateLimitTriggered   = "rate_limit_triggered"
	auditEventMalformedRecord      = "malformed_record"
)

// AuditErrorCode is the stable error label carried by AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCode       AuditErrorCode = "invalid_code"
	auditErrAttemptsExceeded  AuditErrorCode = "attempts_exceeded"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrLockedOut         AuditErrorCode = "locked_out"
	auditErrTransport         AuditErrorCode = "transport_failure"
	auditErrRecipientRejected AuditErrorCode = "recipient_rejected"
	auditErrOutstanding       AuditErrorCode = "challenge_outstanding"
	auditErrConflict          AuditErrorCode = "persistence_conflict"
	auditErrSessionInvalid    AuditErrorCode = "session_invalid"
	auditErrAccountNotFound   AuditErrorCode = "account_not_found"
	auditErrAccountInactive   AuditErrorCode = "account_inactive"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	purpose Purpose,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if purpose != 0 {
		event.Purpose = purpose.String()
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, accountID string, purpose Purpose, err error) {
	if errors.Is(err, ErrLockedOut) {
		e.metricInc(MetricVerificationLockedOut)
	} else {
		e.metricInc(MetricVerificationRateLimited)
	}
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, accountID, purpose, "", err, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrVerificationInvalid):
		return auditErrInvalidCode
	case errors.Is(err, ErrAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrLockedOut):
		return auditErrLockedOut
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTransportFailure):
		return auditErrTransport
	case errors.Is(err, ErrRecipientRejected):
		return auditErrRecipientRejected
	case errors.Is(err, ErrChallengeOutstanding):
		return auditErrOutstanding
	case errors.Is(err, ErrPersistenceConflict):
		return auditErrConflict
	case errors.Is(err, ErrSessionInvalid):
		return auditErrSessionInvalid
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
