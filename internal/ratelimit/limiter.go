package ratelimit

import (
	"sync"
	"time"
)

// sweepInterval is how many checks pass between opportunistic evictions of
// expired counters. Eviction only bounds memory; expired counters are also
// reset lazily whenever their key is checked.
const sweepInterval = 256

// Decision is the outcome of one rate limit check. On allow, Remaining is
// the number of further requests left in the window; on deny, RetryAfter is
// how long until the window resets.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type counter struct {
	count   int
	resetAt time.Time
}

// LimiterConfig describes the dependencies for the limiter.
type LimiterConfig struct {
	Clock func() time.Time
}

// Limiter is a fixed-window request throttle keyed by an identity string.
// Windows are fixed, not sliding: a burst of up to twice the limit can span
// a window boundary, which is the accepted approximation of this scheme.
// Counters are per-key; there is no cross-key coordination.
type Limiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	clock    func() time.Time
	checks   int
}

// NewLimiter constructs the limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{
		counters: make(map[string]*counter),
		clock:    clock,
	}
}

// Check records one request for the key against a limit of maxRequests per
// window. A missing or expired counter resets to a fresh window with
// count 1; otherwise the count increments and the post-increment value is
// compared against the limit. A non-positive limit denies every request.
func (l *Limiter) Check(key string, maxRequests int, window time.Duration) Decision {
	if maxRequests <= 0 {
		return Decision{Allowed: false, RetryAfter: window}
	}

	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.checks++
	if l.checks%sweepInterval == 0 {
		l.evictExpired(now)
	}

	entry, ok := l.counters[key]
	if !ok || !entry.resetAt.After(now) {
		l.counters[key] = &counter{count: 1, resetAt: now.Add(window)}
		return Decision{Allowed: true, Remaining: maxRequests - 1}
	}

	entry.count++
	if entry.count > maxRequests {
		return Decision{Allowed: false, RetryAfter: entry.resetAt.Sub(now)}
	}
	return Decision{Allowed: true, Remaining: maxRequests - entry.count}
}

// Sweep removes all expired counters immediately.
func (l *Limiter) Sweep() int {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evictExpired(now)
}

func (l *Limiter) evictExpired(now time.Time) int {
	evicted := 0
	for key, entry := range l.counters {
		if !entry.resetAt.After(now) {
			delete(l.counters, key)
			evicted++
		}
	}
	return evicted
}
