package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrTransport means every delivery attempt failed. The challenge stays valid.
	ErrTransport = errors.New("mail transport failure")
	// ErrRecipientRejected means the address is malformed or outside the
	// allowed domains. Nothing was sent.
	ErrRecipientRejected = errors.New("mail recipient rejected")
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Templates keyed by purpose name; missing purposes use FallbackTemplate.
	Templates map[string]Template
	// AllowedDomains restricts recipients to these domains when non-empty.
	AllowedDomains []string
	// MaxAttempts per Send, including the first; values below 1 mean 1.
	MaxAttempts    int
	InitialBackoff time.Duration
	Logger         *slog.Logger
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Dispatcher renders verification messages and submits them to a Transport.
type Dispatcher struct {
	transport Transport
	templates map[string]compiled
	fallback  compiled
	domains   map[string]struct{}
	attempts  int
	backoff   time.Duration
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewDispatcher parses every template up front so a bad template fails at
// startup rather than on the first send.
func NewDispatcher(t Transport, cfg DispatcherConfig) (*Dispatcher, error) {
	if t == nil {
		return nil, errors.New("mail transport required")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dispatcher{
		transport: t,
		templates: make(map[string]compiled, len(cfg.Templates)),
		domains:   make(map[string]struct{}, len(cfg.AllowedDomains)),
		attempts:  cfg.MaxAttempts,
		backoff:   cfg.InitialBackoff,
		validate:  validator.New(),
		logger:    cfg.Logger,
	}

	var err error
	if d.fallback, err = compile("fallback", FallbackTemplate); err != nil {
		return nil, err
	}
	for name, tpl := range cfg.Templates {
		c, err := compile(name, tpl)
		if err != nil {
			return nil, err
		}
		d.templates[name] = c
	}
	for _, domain := range cfg.AllowedDomains {
		domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "@"))
		if domain != "" {
			d.domains[domain] = struct{}{}
		}
	}
	return d, nil
}

func compile(name string, tpl Template) (compiled, error) {
	subject, err := template.New(name + ".subject").Option("missingkey=error").Parse(tpl.Subject)
	if err != nil {
		return compiled{}, fmt.Errorf("parse %s subject template: %w", name, err)
	}
	body, err := template.New(name + ".body").Option("missingkey=error").Parse(tpl.Body)
	if err != nil {
		return compiled{}, fmt.Errorf("parse %s body template: %w", name, err)
	}
	return compiled{subject: subject, body: body}, nil
}

// CheckRecipient validates the address and the domain allow-list.
func (d *Dispatcher) CheckRecipient(to string) error {
	if err := d.validate.Var(to, "required,email"); err != nil {
		return fmt.Errorf("%w: invalid address", ErrRecipientRejected)
	}
	if len(d.domains) == 0 {
		return nil
	}
	at := strings.LastIndexByte(to, '@')
	if _, ok := d.domains[strings.ToLower(to[at+1:])]; !ok {
		return fmt.Errorf("%w: domain not allowed", ErrRecipientRejected)
	}
	return nil
}

func (d *Dispatcher) render(purpose, code string, ttl time.Duration) (Message, error) {
	tpl, ok := d.templates[purpose]
	if !ok {
		tpl = d.fallback
	}
	data := TemplateData{
		Code:      code,
		Purpose:   purpose,
		ExpiresIn: humanDuration(ttl),
	}

	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{
		Subject: strings.TrimSpace(subject.String()),
		Body:    body.String(),
	}, nil
}

// Send delivers code to the recipient, retrying the transport with
// exponential backoff.
func (d *Dispatcher) Send(ctx context.Context, to, purpose, code string, ttl time.Duration) error {
	if err := d.CheckRecipient(to); err != nil {
		return err
	}
	msg, err := d.render(purpose, code, ttl)
	if err != nil {
		return err
	}
	msg.To = to

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.backoff
	policy.MaxElapsedTime = 0

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		sendErr := d.transport.Send(ctx, msg)
		if sendErr != nil && ctx.Err() != nil {
			return backoff.Permanent(sendErr)
		}
		return sendErr
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.attempts-1)), ctx))
	if err != nil {
		d.logger.Warn("verification mail not delivered",
			"purpose", purpose,
			"attempts", attempt,
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	d.logger.Debug("verification mail sent", "purpose", purpose, "attempts", attempt)
	return nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a short while"
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	}
	return plural(int(d.Round(time.Second)/time.Second), "second")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
