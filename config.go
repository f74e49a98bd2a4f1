package goAccount

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/internal/limiters"
	"github.com/MrEthical07/goAccount/mail"
)

// CodeFormat selects how verification codes look to the user.
type CodeFormat uint8

const (
	// CodeNumeric is a short decimal code meant to be typed.
	CodeNumeric CodeFormat = iota + 1
	// CodeOpaque is a 256-bit URL-safe token meant for links.
	CodeOpaque
)

// OutstandingPolicy decides what StartVerification does when a live
// challenge already exists for the same (account, purpose).
type OutstandingPolicy uint8

const (
	// Supersede replaces the outstanding challenge; the old code stops working.
	Supersede OutstandingPolicy = iota
	// Reject fails with ErrChallengeOutstanding until the old one expires.
	Reject
)

// GuardPolicy bounds how often challenges may be requested and how many
// burned challenges lead to a lockout.
type GuardPolicy struct {
	// Cooldown is the minimum gap between two requests.
	Cooldown time.Duration
	// Window and MaxRequests bound requests per rolling window.
	Window      time.Duration
	MaxRequests int
	// LockoutThreshold challenges burned through MaxAttempts inside Window
	// lock the pair for LockoutDuration. Zero disables lockout.
	LockoutThreshold int
	LockoutDuration  time.Duration
}

// PurposePolicy configures one verification purpose.
type PurposePolicy struct {
	TTL         time.Duration
	MaxAttempts int
	CodeFormat  CodeFormat
	// CodeDigits applies to CodeNumeric only.
	CodeDigits    int
	Guard         GuardPolicy
	OnOutstanding OutstandingPolicy
	// RequireStatus is the account status needed to start this flow. Other
	// accounts get the enumeration-safe no-op.
	RequireStatus AccountStatus
	// IssueSession mints a session when the code is confirmed.
	IssueSession  bool
	SingleSession bool
}

func (p PurposePolicy) codePolicy() internal.CodePolicy {
	kind := internal.CodeNumeric
	if p.CodeFormat == CodeOpaque {
		kind = internal.CodeOpaque
	}
	return internal.CodePolicy{Kind: kind, Digits: p.CodeDigits}
}

func (p PurposePolicy) guardPolicy() limiters.GuardPolicy {
	return limiters.GuardPolicy{
		Cooldown:         p.Guard.Cooldown,
		Window:           p.Guard.Window,
		MaxRequests:      p.Guard.MaxRequests,
		LockoutThreshold: p.Guard.LockoutThreshold,
		LockoutDuration:  p.Guard.LockoutDuration,
	}
}

func (p PurposePolicy) validate(name string) error {
	if p.TTL <= 0 {
		return fmt.Errorf("%s: TTL must be > 0", name)
	}
	if p.MaxAttempts < 1 || p.MaxAttempts > 0xffff {
		return fmt.Errorf("%s: MaxAttempts must be in [1, 65535]", name)
	}
	switch p.CodeFormat {
	case CodeNumeric:
		if p.CodeDigits < internal.MinOTPDigits || p.CodeDigits > internal.MaxOTPDigits {
			return fmt.Errorf("%s: CodeDigits must be in [%d, %d]", name, internal.MinOTPDigits, internal.MaxOTPDigits)
		}
	case CodeOpaque:
	default:
		return fmt.Errorf("%s: unknown CodeFormat %d", name, p.CodeFormat)
	}
	g := p.Guard
	if g.Cooldown < 0 || g.Window < 0 || g.MaxRequests < 0 || g.LockoutThreshold < 0 || g.LockoutDuration < 0 {
		return fmt.Errorf("%s: guard values must be >= 0", name)
	}
	if g.MaxRequests > 0 && g.Window <= 0 {
		return fmt.Errorf("%s: guard MaxRequests requires a Window", name)
	}
	if g.LockoutThreshold > 0 && (g.Window <= 0 || g.LockoutDuration <= 0) {
		return fmt.Errorf("%s: guard lockout requires Window and LockoutDuration", name)
	}
	if p.OnOutstanding != Supersede && p.OnOutstanding != Reject {
		return fmt.Errorf("%s: unknown OnOutstanding %d", name, p.OnOutstanding)
	}
	if p.SingleSession && !p.IssueSession {
		return fmt.Errorf("%s: SingleSession requires IssueSession", name)
	}
	return nil
}

// VerificationConfig holds settings shared by all purposes.
type VerificationConfig struct {
	// ConflictRetries is how many times a lost compare-and-swap is re-read
	// and re-applied before ErrPersistenceConflict surfaces.
	ConflictRetries int
	// ConfirmPerSecond and ConfirmBurst size the in-process advisory bucket
	// per (account, purpose) in front of ConfirmVerification. Zero disables it.
	ConfirmPerSecond float64
	ConfirmBurst     int
	// IPPerSecond and IPBurst do the same per client IP (see WithClientIP).
	IPPerSecond float64
	IPBurst     int
}

// SessionConfig bounds session lifetime and the number of live sessions per
// account. MaxPerAccount 0 means the index capacity.
type SessionConfig struct {
	TTL           time.Duration
	IdleTimeout   time.Duration
	TouchInterval time.Duration
	MaxPerAccount int
}

// PersistenceConfig controls the transient-retry decorator around the adapter.
type PersistenceConfig struct {
	RetryAttempts        int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// DispatchConfig controls code delivery: templates, recipient domain
// allowlist and transport retries.
type DispatchConfig struct {
	// Templates keyed by purpose name. Missing purposes use the built-in
	// defaults from the mail package.
	Templates      map[string]mail.Template
	AllowedDomains []string
	MaxAttempts    int
	InitialBackoff time.Duration
}

// AuditConfig controls the asynchronous audit pipeline. With DropIfFull
// unset, emitters block while the buffer is full.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles counters and the authenticate latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// HousekeepingConfig sets the default cadence of a Housekeeper.
type HousekeepingConfig struct {
	// Interval between sweeps. Zero means one hour.
	Interval time.Duration
}

// Config is the complete engine configuration. Start from DefaultConfig.
type Config struct {
	Verification VerificationConfig
	Purposes     map[Purpose]PurposePolicy
	Session      SessionConfig
	Persistence  PersistenceConfig
	Dispatch     DispatchConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Housekeeping HousekeepingConfig
}

// DefaultConfig returns the production defaults: supersede on re-request,
// multiple sessions per account, numeric six-digit codes.
func DefaultConfig() Config {
	return Config{
		Verification: VerificationConfig{
			ConflictRetries:  1,
			ConfirmPerSecond: 1,
			ConfirmBurst:     5,
			IPPerSecond:      5,
			IPBurst:          20,
		},
		Purposes: map[Purpose]PurposePolicy{
			PurposeRegistration: {
				TTL:         15 * time.Minute,
				MaxAttempts: 5,
				CodeFormat:  CodeNumeric,
				CodeDigits:  6,
				Guard: GuardPolicy{
					Cooldown:         10 * time.Minute,
					Window:           time.Hour,
					MaxRequests:      5,
					LockoutThreshold: 3,
					LockoutDuration:  15 * time.Minute,
				},
				RequireStatus: AccountPendingVerification,
				IssueSession:  true,
			},
			PurposePasswordReset: {
				TTL:         15 * time.Minute,
				MaxAttempts: 5,
				CodeFormat:  CodeNumeric,
				CodeDigits:  8,
				Guard: GuardPolicy{
					Cooldown:         10 * time.Minute,
					Window:           24 * time.Hour,
					MaxRequests:      5,
					LockoutThreshold: 3,
					LockoutDuration:  time.Hour,
				},
				RequireStatus: AccountActive,
				IssueSession:  true,
				SingleSession: true,
			},
			PurposeEmailChange: {
				TTL:         30 * time.Minute,
				MaxAttempts: 5,
				CodeFormat:  CodeNumeric,
				CodeDigits:  6,
				Guard: GuardPolicy{
					Cooldown:         10 * time.Minute,
					Window:           time.Hour,
					MaxRequests:      5,
					LockoutThreshold: 3,
					LockoutDuration:  30 * time.Minute,
				},
				RequireStatus: AccountActive,
			},
		},
		Session: SessionConfig{
			TTL:           30 * 24 * time.Hour,
			IdleTimeout:   0,
			TouchInterval: 5 * time.Minute,
		},
		Persistence: PersistenceConfig{
			RetryAttempts:        3,
			RetryInitialInterval: 50 * time.Millisecond,
			RetryMaxInterval:     time.Second,
		},
		Dispatch: DispatchConfig{
			Templates:      maps.Clone(mail.DefaultTemplates),
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Housekeeping: HousekeepingConfig{
			Interval: time.Hour,
		},
	}
}

// Validate reports the first configuration error found.
func (c Config) Validate() error {
	if len(c.Purposes) == 0 {
		return errors.New("at least one purpose must be configured")
	}
	for _, p := range slices.Sorted(maps.Keys(c.Purposes)) {
		if _, ok := purposeNames[p]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownPurpose, p)
		}
		if err := c.Purposes[p].validate(p.String()); err != nil {
			return err
		}
	}

	v := c.Verification
	if v.ConflictRetries < 0 {
		return errors.New("Verification.ConflictRetries must be >= 0")
	}
	if v.ConfirmPerSecond < 0 || v.IPPerSecond < 0 || v.ConfirmBurst < 0 || v.IPBurst < 0 {
		return errors.New("Verification advisory limits must be >= 0")
	}

	s := c.Session
	if s.TTL <= 0 {
		return errors.New("Session.TTL must be > 0")
	}
	if s.IdleTimeout < 0 || s.TouchInterval < 0 || s.MaxPerAccount < 0 {
		return errors.New("Session limits must be >= 0")
	}
	if s.IdleTimeout > 0 && (s.TouchInterval <= 0 || s.TouchInterval >= s.IdleTimeout) {
		return errors.New("Session.IdleTimeout requires 0 < TouchInterval < IdleTimeout")
	}

	if c.Persistence.RetryAttempts < 0 {
		return errors.New("Persistence.RetryAttempts must be >= 0")
	}
	if c.Dispatch.MaxAttempts < 0 || c.Dispatch.InitialBackoff < 0 {
		return errors.New("Dispatch retry values must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0 when audit is enabled")
	}
	if c.Housekeeping.Interval < 0 {
		return errors.New("Housekeeping.Interval must be >= 0")
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.Purposes = maps.Clone(c.Purposes)
	out.Dispatch.Templates = maps.Clone(c.Dispatch.Templates)
	out.Dispatch.AllowedDomains = slices.Clone(c.Dispatch.AllowedDomains)
	return out
}
