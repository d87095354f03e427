// Package ratelimit throttles login attempts per client IP.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// New creates a Limiter allowing rps requests per second per key with the
// given burst.
func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow consumes one token for key and reports whether it was available.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// RetryAfter is the delay until one token is available again, rounded up to
// whole seconds for the Retry-After header.
func (l *Limiter) RetryAfter() time.Duration {
	if l.limit <= 0 {
		return time.Second
	}
	d := time.Duration(float64(time.Second) / float64(l.limit))
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}

// Cleanup forgets keys not seen for longer than idle and returns how many
// are still tracked.
func (l *Limiter) Cleanup(idle time.Duration) int {
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
	return len(l.limiters)
}

// StartCleanup runs Cleanup every interval until stop is closed.
func (l *Limiter) StartCleanup(interval, idle time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup(idle)
			case <-stop:
				return
			}
		}
	}()
}
