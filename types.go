package goAccount

import (
	"context"
	"fmt"
	"time"
)

// Purpose scopes a verification challenge. At most one challenge is
// outstanding per (account, purpose).
type Purpose uint8

const (
	PurposeRegistration Purpose = iota + 1
	PurposePasswordReset
	PurposeEmailChange
)

var purposeNames = map[Purpose]string{
	PurposeRegistration:  "registration",
	PurposePasswordReset: "password_reset",
	PurposeEmailChange:   "email_change",
}

func (p Purpose) String() string {
	if name, ok := purposeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("purpose(%d)", uint8(p))
}

// ParsePurpose maps a purpose name such as "password_reset" to its value.
func ParsePurpose(name string) (Purpose, error) {
	for p, n := range purposeNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPurpose, name)
}

// AccountStatus is the lifecycle state reported by the identity model.
type AccountStatus uint8

const (
	AccountPendingVerification AccountStatus = iota
	AccountActive
	AccountDisabled
)

// Account is the identity-model view the engine needs: where to send codes
// and whether the account may take part in a flow.
type Account struct {
	ID     string
	Email  string
	Status AccountStatus
}

// IdentityProvider resolves accounts. It returns ErrAccountNotFound (or an
// error wrapping it) for unknown IDs.
type IdentityProvider interface {
	LookupAccount(ctx context.Context, accountID string) (Account, error)
}

// IdentityProviderFunc adapts a function to IdentityProvider.
type IdentityProviderFunc func(ctx context.Context, accountID string) (Account, error)

func (f IdentityProviderFunc) LookupAccount(ctx context.Context, accountID string) (Account, error) {
	return f(ctx, accountID)
}

// Session is a minted or listed session. Token is set only on the value
// returned when the session is created; it is never retrievable again.
type Session struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Token      string    `json:"token,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SweepResult reports what one housekeeping pass removed.
type SweepResult struct {
	Challenges int
	Sessions   int
	Purged     int
}

type startOptions struct {
	recipient string
}

// StartOption customises a StartVerification call.
type StartOption func(*startOptions)

// WithRecipient sends the code to addr instead of the account's address on
// file. Used to confirm ownership of a new address during an email change.
func WithRecipient(addr string) StartOption {
	return func(o *startOptions) { o.recipient = addr }
}

type sessionOptions struct {
	single bool
}

// SessionOption customises CreateSession.
type SessionOption func(*sessionOptions)

// SingleSession revokes every other session of the account when the new one
// is created.
func SingleSession() SessionOption {
	return func(o *sessionOptions) { o.single = true }
}
