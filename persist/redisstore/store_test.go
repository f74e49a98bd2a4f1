package redisstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goAccount/persist"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, "ga"), mr
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, persist.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutHonoursTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if got := mr.TTL("ga:k"); got != time.Minute {
		t.Fatalf("expected ttl 1m, got %v", got)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, persist.ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestCompareAndDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	ok, err := s.CompareAndDelete(ctx, "k", []byte("other"))
	if err != nil || ok {
		t.Fatalf("expected mismatch to keep key, ok=%v err=%v", ok, err)
	}
	ok, err = s.CompareAndDelete(ctx, "k", []byte("v1"))
	if err != nil || !ok {
		t.Fatalf("expected delete, ok=%v err=%v", ok, err)
	}
	ok, err = s.CompareAndDelete(ctx, "k", []byte("v1"))
	if err != nil || ok {
		t.Fatalf("expected second delete to lose, ok=%v err=%v", ok, err)
	}
}

func TestCompareAndSwapCreateIfAbsent(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.CompareAndSwap(ctx, "k", nil, []byte("a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected create, ok=%v err=%v", ok, err)
	}
	ok, err = s.CompareAndSwap(ctx, "k", nil, []byte("b"), time.Minute)
	if err != nil || ok {
		t.Fatalf("expected create on existing key to fail, ok=%v err=%v", ok, err)
	}
	ok, err = s.CompareAndSwap(ctx, "k", []byte("a"), []byte("b"), 0)
	if err != nil || !ok {
		t.Fatalf("expected swap, ok=%v err=%v", ok, err)
	}
	got, _ := s.Get(ctx, "k")
	if string(got) != "b" {
		t.Fatalf("expected b, got %q", got)
	}
	if ttl := mr.TTL("ga:k"); ttl != 0 {
		t.Fatalf("expected swap with zero ttl to persist, got %v", ttl)
	}
}

func TestCompareAndSwapRoundsTTLUp(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{ttl: 300 * time.Microsecond, want: time.Millisecond},
		{ttl: 1200 * time.Microsecond, want: 2 * time.Millisecond},
		{ttl: time.Second, want: time.Second},
	}
	for _, tc := range cases {
		ok, err := s.CompareAndSwap(ctx, "k", nil, []byte("v"), tc.ttl)
		if err != nil || !ok {
			t.Fatalf("ttl %v: expected create, ok=%v err=%v", tc.ttl, ok, err)
		}
		if got := mr.TTL("ga:k"); got != tc.want {
			t.Fatalf("ttl %v: expected %v, got %v", tc.ttl, tc.want, got)
		}
		mr.FastForward(tc.want)
		if _, err := s.Get(ctx, "k"); !errors.Is(err, persist.ErrNotFound) {
			t.Fatalf("ttl %v: expected expiry, got %v", tc.ttl, err)
		}
	}
}

func TestCompareAndDeleteSingleWinnerUnderConcurrency(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "race", []byte("token"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	const workers = 32
	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := s.CompareAndDelete(ctx, "race", []byte("token"))
			if err != nil {
				t.Errorf("CompareAndDelete failed: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}

func TestScanStripsNamespace(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"vc:a", "vc:b", "sess:c"} {
		if err := s.Put(ctx, k, []byte(k), 0); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	var keys []string
	err := s.Scan(ctx, "vc:", func(key string, value []byte) error {
		if key != string(value) {
			t.Fatalf("key %q does not match value %q", key, value)
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "vc:a" || keys[1] != "vc:b" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestUnavailableWhenRedisDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "k")
	if !errors.Is(err, persist.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
