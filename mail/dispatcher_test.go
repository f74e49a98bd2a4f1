package mail

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	fails int
	sent  []Message
	calls int
}

func (r *recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fails > 0 {
		r.fails--
		return errors.New("connection refused")
	}
	r.sent = append(r.sent, msg)
	return nil
}

var codeLine = regexp.MustCompile(`Code: (\S+)`)

func newTestDispatcher(t *testing.T, tr Transport, cfg DispatcherConfig) *Dispatcher {
	t.Helper()
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Millisecond
	}
	d, err := NewDispatcher(tr, cfg)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func TestSendRendersPurposeTemplate(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec, DispatcherConfig{Templates: DefaultTemplates})

	if err := d.Send(context.Background(), "a@x.io", "password_reset", "482913", 10*time.Minute); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(rec.sent))
	}

	msg := rec.sent[0]
	if msg.To != "a@x.io" {
		t.Fatalf("unexpected recipient %q", msg.To)
	}
	if msg.Subject != "Password reset code" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "10 minutes") {
		t.Fatalf("body lacks ttl: %q", msg.Body)
	}
	m := codeLine.FindStringSubmatch(msg.Body)
	if len(m) != 2 || m[1] != "482913" {
		t.Fatalf("body lacks code: %q", msg.Body)
	}
}

func TestSendUsesFallbackTemplate(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec, DispatcherConfig{})

	if err := d.Send(context.Background(), "a@x.io", "custom", "ABC", time.Hour); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg := rec.sent[0]
	if msg.Subject != FallbackTemplate.Subject {
		t.Fatalf("expected fallback subject, got %q", msg.Subject)
	}
	for _, want := range []string{"Code: ABC", "1 hour"} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body lacks %q: %q", want, msg.Body)
		}
	}
}

func TestSendRetriesTransport(t *testing.T) {
	rec := &recorder{fails: 2}
	d := newTestDispatcher(t, rec, DispatcherConfig{MaxAttempts: 3})

	if err := d.Send(context.Background(), "a@x.io", "registration", "123456", time.Minute); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if rec.calls != 3 || len(rec.sent) != 1 {
		t.Fatalf("expected 3 calls and 1 delivery, got %d and %d", rec.calls, len(rec.sent))
	}
}

func TestSendGivesUp(t *testing.T) {
	rec := &recorder{fails: 10}
	d := newTestDispatcher(t, rec, DispatcherConfig{MaxAttempts: 2})

	err := d.Send(context.Background(), "a@x.io", "registration", "123456", time.Minute)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if rec.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", rec.calls)
	}
}

func TestRecipientChecks(t *testing.T) {
	rec := &recorder{}
	d := newTestDispatcher(t, rec, DispatcherConfig{AllowedDomains: []string{"@Example.com"}})

	for _, to := range []string{"not-an-address", "a@other.com"} {
		if err := d.Send(context.Background(), to, "registration", "1", time.Minute); !errors.Is(err, ErrRecipientRejected) {
			t.Fatalf("%s: expected ErrRecipientRejected, got %v", to, err)
		}
	}
	if err := d.CheckRecipient("a@EXAMPLE.com"); err != nil {
		t.Fatalf("allowed domain rejected: %v", err)
	}
	if rec.calls != 0 {
		t.Fatalf("rejected recipients must not reach the transport, got %d calls", rec.calls)
	}
}

func TestBadTemplateFailsAtConstruction(t *testing.T) {
	_, err := NewDispatcher(&recorder{}, DispatcherConfig{
		Templates: map[string]Template{"x": {Subject: "{{.Code", Body: ""}},
	})
	if err == nil {
		t.Fatal("expected template parse error")
	}

	if _, err := NewDispatcher(nil, DispatcherConfig{}); err == nil {
		t.Fatal("expected error for nil transport")
	}
}

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		time.Minute:      "1 minute",
		15 * time.Minute: "15 minutes",
		2 * time.Hour:    "2 hours",
		90 * time.Second: "90 seconds",
	}
	for d, want := range cases {
		if got := humanDuration(d); got != want {
			t.Fatalf("humanDuration(%v) = %q, want %q", d, got, want)
		}
	}
}
