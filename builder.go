package goAccount

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/internal/limiters"
	"github.com/MrEthical07/goAccount/internal/stores"
	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/persist"
	"github.com/MrEthical07/goAccount/session"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config    Config
	adapter   persist.Adapter
	identity  IdentityProvider
	transport mail.Transport
	secret    []byte
	logger    *slog.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration. Maps are copied, so later changes
// to cfg do not reach the engine.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithAdapter sets the persistence backend. It is wrapped with
// persist.WithRetry according to Config.Persistence.
func (b *Builder) WithAdapter(a persist.Adapter) *Builder {
	b.adapter = a
	return b
}

// WithIdentityProvider sets the account directory consulted on every
// request. Required.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identity = p
	return b
}

// WithTransport sets the mail transport used to deliver codes. Required.
func (b *Builder) WithTransport(t mail.Transport) *Builder {
	b.transport = t
	return b
}

// WithSecret sets the process-wide digest secret, at least 32 bytes. The
// builder keeps a copy.
func (b *Builder) WithSecret(secret []byte) *Builder {
	b.secret = slices.Clone(secret)
	return b
}

// WithLogger sets the operational logger. Nil means slog.Default.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets where audit events go when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine. A Builder can be
// built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.adapter == nil {
		return nil, errors.New("persistence adapter required")
	}
	if b.identity == nil {
		return nil, errors.New("identity provider required")
	}
	if b.transport == nil {
		return nil, errors.New("mail transport required")
	}

	keys, err := internal.NewKeyring(b.secret)
	if err != nil {
		return nil, err
	}
	clear(b.secret)

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	adapter := persist.WithRetry(b.adapter, persist.RetryConfig{
		MaxAttempts:     cfg.Persistence.RetryAttempts,
		InitialInterval: cfg.Persistence.RetryInitialInterval,
		MaxInterval:     cfg.Persistence.RetryMaxInterval,
	})

	dispatcher, err := mail.NewDispatcher(b.transport, mail.DispatcherConfig{
		Templates:      cfg.Dispatch.Templates,
		AllowedDomains: cfg.Dispatch.AllowedDomains,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		InitialBackoff: cfg.Dispatch.InitialBackoff,
		Logger:         logger.With("component", "mail"),
	})
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewIssuer(adapter, keys, session.Config{
		TTL:             cfg.Session.TTL,
		IdleTimeout:     cfg.Session.IdleTimeout,
		TouchInterval:   cfg.Session.TouchInterval,
		MaxPerAccount:   cfg.Session.MaxPerAccount,
		ConflictRetries: cfg.Verification.ConflictRetries,
		Now:             now,
		Logger:          logger.With("component", "session"),
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:   cfg,
		adapter:  adapter,
		identity: b.identity,
		codes:    internal.NewCodeGenerator(keys),
		challenges: stores.NewChallengeStore(adapter, stores.ChallengeStoreConfig{
			ConflictRetries: cfg.Verification.ConflictRetries,
			Now:             now,
			Logger:          logger.With("component", "challenges"),
		}),
		guard: limiters.NewAttemptGuard(adapter, limiters.AttemptGuardConfig{
			ConflictRetries: cfg.Verification.ConflictRetries,
			Now:             now,
			Logger:          logger.With("component", "guard"),
		}),
		confirmLimiter: limiters.NewAdvisory(cfg.Verification.ConfirmPerSecond, cfg.Verification.ConfirmBurst, 0),
		ipLimiter:      limiters.NewAdvisory(cfg.Verification.IPPerSecond, cfg.Verification.IPBurst, 0),
		dispatcher:     dispatcher,
		sessions:       sessions,
		audit:          newAuditDispatcher(cfg.Audit, b.auditSink, logger.With("component", "audit")),
		metrics:        NewMetrics(cfg.Metrics),
		logger:         logger,
		now:            now,
	}

	b.built = true
	return engine, nil
}
