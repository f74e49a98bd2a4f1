package goAccount

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrVerificationInvalid covers a wrong, expired, consumed or absent
	// challenge. Callers cannot tell the cases apart.
	ErrVerificationInvalid = errors.New("verification code invalid or expired")
	// ErrAttemptsExceeded labels the audit event of the wrong submission that
	// used up the challenge. Callers get ErrVerificationInvalid for it, so a
	// burned challenge looks the same as one that never existed.
	ErrAttemptsExceeded = errors.New("verification attempts exceeded")
	ErrRateLimited      = errors.New("verification rate limited")
	// ErrLockedOut wraps ErrRateLimited: errors.Is(err, ErrRateLimited) holds.
	ErrLockedOut = fmt.Errorf("%w: temporarily locked", ErrRateLimited)
	// ErrTransportFailure means the code was stored but the mail did not go
	// out. The challenge stays valid; the caller may offer a resend at once.
	ErrTransportFailure     = errors.New("verification mail could not be sent")
	ErrRecipientRejected    = errors.New("verification recipient rejected")
	ErrChallengeOutstanding = errors.New("verification already outstanding")
	ErrPersistenceConflict  = errors.New("persistence conflict")
	ErrUnavailable          = errors.New("backend unavailable")
	ErrUnknownPurpose       = errors.New("unknown verification purpose")
	ErrSessionInvalid       = errors.New("session invalid")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountInactive      = errors.New("account inactive")
	ErrEngineNotReady       = errors.New("engine not initialized")
)

// RateLimitError carries how long the caller should wait. It unwraps to
// ErrRateLimited or ErrLockedOut.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Err, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryAfter extracts the wait hint from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
