package limiters

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type advisoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Advisory is an in-process token bucket per key. It may shed traffic early
// but is never consulted to grant anything: every allowed call still goes
// through the persisted checks.
type Advisory struct {
	mu        sync.Mutex
	entries   map[string]*advisoryEntry
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastPrune time.Time
	now       func() time.Time
}

// NewAdvisory returns a limiter allowing perSecond events with the given
// burst per key. A zero or negative perSecond disables limiting.
func NewAdvisory(perSecond float64, burst int, idleTTL time.Duration) *Advisory {
	if burst <= 0 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Advisory{
		entries: make(map[string]*advisoryEntry),
		limit:   limit,
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// Allow consumes one token for key.
func (a *Advisory) Allow(key string) bool {
	if a == nil || a.limit == rate.Inf || key == "" {
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if now.Sub(a.lastPrune) > a.idleTTL {
		for k, e := range a.entries {
			if now.Sub(e.lastSeen) > a.idleTTL {
				delete(a.entries, k)
			}
		}
		a.lastPrune = now
	}

	e, ok := a.entries[key]
	if !ok {
		e = &advisoryEntry{limiter: rate.NewLimiter(a.limit, a.burst)}
		a.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (a *Advisory) Len() int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
