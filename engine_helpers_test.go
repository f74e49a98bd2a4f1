package goAccount

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/persist/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// directory is an in-memory IdentityProvider.
type directory struct {
	mu       sync.Mutex
	accounts map[string]Account
}

func newDirectory(accounts ...Account) *directory {
	d := &directory{accounts: make(map[string]Account)}
	for _, a := range accounts {
		d.accounts[a.ID] = a
	}
	return d
}

func (d *directory) LookupAccount(_ context.Context, id string) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (d *directory) setStatus(id string, status AccountStatus) {
	d.mu.Lock()
	a := d.accounts[id]
	a.Status = status
	d.accounts[id] = a
	d.mu.Unlock()
}

var codeLine = regexp.MustCompile(`Code: (\S+)`)

// outbox records every message handed to the transport, including ones it
// was told to fail.
type outbox struct {
	mu       sync.Mutex
	messages []mail.Message
	failNext int
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	if o.failNext > 0 {
		o.failNext--
		return errors.New("smtp: 421 service not available")
	}
	return nil
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

func (o *outbox) last(t *testing.T) mail.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.messages) == 0 {
		t.Fatal("no message sent")
	}
	return o.messages[len(o.messages)-1]
}

func (o *outbox) lastCode(t *testing.T) string {
	t.Helper()
	m := codeLine.FindStringSubmatch(o.last(t).Body)
	if m == nil {
		t.Fatalf("no code in message body %q", o.last(t).Body)
	}
	return m[1]
}

type testEnv struct {
	engine *Engine
	dir    *directory
	outbox *outbox
	clock  *fakeClock
	mr     *miniredis.Miniredis
}

// testConfig disables the in-process advisory buckets and transport retries
// so scenarios are deterministic.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Verification.ConfirmPerSecond = 0
	cfg.Verification.IPPerSecond = 0
	cfg.Dispatch.MaxAttempts = 1
	cfg.Persistence.RetryAttempts = 1
	return cfg
}

func newTestEnv(t *testing.T, cfg Config, sink AuditSink, accounts ...Account) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	env := &testEnv{
		dir:    newDirectory(accounts...),
		outbox: &outbox{},
		clock:  newFakeClock(),
		mr:     mr,
	}
	b := New().
		WithConfig(cfg).
		WithAdapter(redisstore.New(rdb, "acct-test")).
		WithIdentityProvider(env.dir).
		WithTransport(env.outbox).
		WithSecret(bytes.Repeat([]byte("k"), 32)).
		WithClock(env.clock.Now)
	if sink != nil {
		b = b.WithAuditSink(sink)
	}
	env.engine, err = b.Build()
	if err != nil {
		_ = rdb.Close()
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		env.engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return env
}

func (env *testEnv) start(t *testing.T, account string, purpose Purpose, opts ...StartOption) string {
	t.Helper()
	before := env.outbox.count()
	if err := env.engine.StartVerification(context.Background(), account, purpose, opts...); err != nil {
		t.Fatalf("StartVerification(%s, %s): %v", account, purpose, err)
	}
	if env.outbox.count() != before+1 {
		t.Fatalf("expected one message, outbox grew by %d", env.outbox.count()-before)
	}
	return env.outbox.lastCode(t)
}

func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}

var (
	pendingAlice = Account{ID: "acct-alice", Email: "alice@example.com", Status: AccountPendingVerification}
	activeBob    = Account{ID: "acct-bob", Email: "bob@example.com", Status: AccountActive}
)
