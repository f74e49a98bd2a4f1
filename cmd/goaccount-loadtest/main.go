// Command goaccount-loadtest drives the engine against Redis: it seeds
// sessions, measures Authenticate, then races confirmations of the same code
// and checks that every challenge produced exactly one session.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/persist/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		challenges  = flag.Int("challenges", 500, "number of verification challenges to race")
		racers      = flag.Int("racers", 8, "concurrent confirmations per challenge")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "authenticate operations")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "loadtest", "key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *challenges <= 0 || *racers <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, challenges, racers, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	codes := &mailbox{}
	engine, err := newEngine(client, *prefix, codes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	tokens := make([]string, *sessions)
	for i := range *sessions {
		sess, err := engine.CreateSession(ctx, fmt.Sprintf("active-%d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "create session failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = sess.Token
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats := runAuthenticatePhase(ctx, engine, tokens, *ops, *concurrency)
	raceStats, winners, err := runConfirmRacePhase(ctx, engine, codes, *challenges, *racers, *concurrency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "confirm race: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("confirm", raceStats)
	fmt.Printf("confirm: challenges=%d sessions_minted=%d\n", *challenges, winners)
	if winners != int64(*challenges) {
		fmt.Fprintf(os.Stderr, "expected exactly one session per challenge, got %d for %d\n", winners, *challenges)
		os.Exit(1)
	}
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// mailbox keeps the last code sent to each address.
type mailbox struct {
	codes sync.Map
}

func (m *mailbox) Send(_ context.Context, msg mail.Message) error {
	m.codes.Store(msg.To, strings.TrimSpace(msg.Body))
	return nil
}

func (m *mailbox) code(to string) (string, bool) {
	v, ok := m.codes.Load(to)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func newEngine(client redis.UniversalClient, prefix string, transport mail.Transport) (*goAccount.Engine, error) {
	cfg := goAccount.DefaultConfig()
	cfg.Verification.ConfirmPerSecond = 0
	cfg.Verification.IPPerSecond = 0
	cfg.Verification.ConflictRetries = 3
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Dispatch.Templates["registration"] = mail.Template{Subject: "code", Body: "{{.Code}}"}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}

	identity := goAccount.IdentityProviderFunc(func(_ context.Context, id string) (goAccount.Account, error) {
		status := goAccount.AccountActive
		switch {
		case strings.HasPrefix(id, "pending-"):
			status = goAccount.AccountPendingVerification
		case !strings.HasPrefix(id, "active-"):
			return goAccount.Account{}, goAccount.ErrAccountNotFound
		}
		return goAccount.Account{ID: id, Email: id + "@example.com", Status: status}, nil
	})

	return goAccount.New().
		WithConfig(cfg).
		WithAdapter(redisstore.New(client, prefix)).
		WithIdentityProvider(identity).
		WithTransport(transport).
		WithSecret(secret).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
}

func runAuthenticatePhase(ctx context.Context, engine *goAccount.Engine, tokens []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if int(cursor.Add(1)) > ops {
					return
				}
				token := tokens[mrand.IntN(len(tokens))]
				t0 := time.Now()
				_, err := engine.Authenticate(ctx, token)
				d := time.Since(t0)
				if err != nil {
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

// runConfirmRacePhase issues one registration challenge per account and has
// racers goroutines confirm each code at once. Only one may win.
func runConfirmRacePhase(ctx context.Context, engine *goAccount.Engine, box *mailbox, challenges, racers, concurrency int) (phaseStats, int64, error) {
	accounts := make([]string, challenges)
	codes := make([]string, challenges)
	for i := range challenges {
		accounts[i] = fmt.Sprintf("pending-%d", i)
		if err := engine.StartVerification(ctx, accounts[i], goAccount.PurposeRegistration); err != nil {
			return phaseStats{}, 0, fmt.Errorf("start %s: %w", accounts[i], err)
		}
		code, ok := box.code(accounts[i] + "@example.com")
		if !ok {
			return phaseStats{}, 0, fmt.Errorf("no code delivered to %s", accounts[i])
		}
		codes[i] = code
	}

	var (
		wg        sync.WaitGroup
		winners   atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, challenges*racers)
		mu        sync.Mutex
		sem       = make(chan struct{}, concurrency)
	)

	start := time.Now()
	for i := range challenges {
		for range racers {
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer func() {
					<-sem
					wg.Done()
				}()
				t0 := time.Now()
				sess, err := engine.ConfirmVerification(ctx, accounts[i], goAccount.PurposeRegistration, codes[i])
				d := time.Since(t0)
				switch {
				case err == nil && sess != nil:
					winners.Add(1)
				case errors.Is(err, goAccount.ErrVerificationInvalid), errors.Is(err, goAccount.ErrPersistenceConflict):
					// lost the race
				default:
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}()
		}
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load()), winners.Load(), nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	slices.Sort(samples)
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
