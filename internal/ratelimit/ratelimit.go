// Package ratelimit throttles callers by key (client IP, session subject)
// with one token bucket per key.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config describes a budget of Requests per Window. The bucket holds a full
// window's worth of requests and refills evenly across the window.
type Config struct {
	Requests int
	Window   time.Duration
}

var (
	// Auth limits session issuance per client IP.
	Auth = Config{Requests: 10, Window: 15 * time.Minute}
	// Preview limits preview lookups per session subject.
	Preview = Config{Requests: 30, Window: 5 * time.Minute}
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a set of token buckets keyed by caller identity.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
	now     func() time.Time

	lastSweep time.Time
}

// New creates a Limiter for cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Limit returns the configured number of requests per window.
func (l *Limiter) Limit() int {
	return l.cfg.Requests
}

// Allow consumes one request for key. When the budget is exhausted it returns
// false and how long until the next request would be admitted.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	b, ok := l.buckets[key]
	if !ok {
		every := l.cfg.Window / time.Duration(l.cfg.Requests)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), l.cfg.Requests)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, l.cfg.Window
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// A bucket left alone for a full window has refilled completely and is
// indistinguishable from a new one, so it can be dropped. Sweeps run at most
// once per window.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.Window {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.cfg.Window {
			delete(l.buckets, k)
		}
	}
}
