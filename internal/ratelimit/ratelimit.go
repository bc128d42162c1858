// Package ratelimit implements per-client sliding-window rate limiting
// on costly endpoints (C15). Grounded on spec §4.15's "N per second" /
// "N per minute" limit expressions, built on golang.org/x/time/rate's
// token-bucket primitive (the ecosystem-standard limiter building
// block, not a hand-rolled counter) — one bucket per remote address,
// self-trimmed the way internal/worker's idle loop self-times out
// rather than leaking goroutines per client.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate is a parsed "N per second/minute" limit expression.
type Rate struct {
	Limit rate.Limit
	Burst int
}

// PerSecond returns a Rate admitting n events per second, with a burst
// of n so a client can spend its whole allotment in one instant.
func PerSecond(n int) Rate {
	return Rate{Limit: rate.Limit(n), Burst: n}
}

// PerMinute returns a Rate admitting n events per minute.
func PerMinute(n int) Rate {
	return Rate{Limit: rate.Limit(float64(n) / 60.0), Burst: n}
}

// staleAfter is how long a client bucket may sit unused before the
// self-trim pass reclaims it (spec §4.15: "self-trim entries older than
// one hour").
const staleAfter = time.Hour

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter tracks one bucket per (endpoint, client) pair.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Rate
	buckets map[string]*bucket
}

// New constructs a Limiter. limits maps an endpoint name (e.g.
// "/search") to the Rate it enforces; an endpoint with no configured
// limit is never throttled.
func New(limits map[string]Rate) *Limiter {
	return &Limiter{
		limits:  limits,
		buckets: map[string]*bucket{},
	}
}

// Allow checks whether client may call endpoint now, admitting and
// recording the call if so (spec §4.15: "Under the limit: admit and
// record timestamp. Over the limit: reject... with a retry-after
// hint").
func (l *Limiter) Allow(endpoint, client string) Decision {
	limit, limited := l.limits[endpoint]
	if !limited {
		return Decision{Allowed: true}
	}

	l.Trim()
	key := endpoint + "|" + client
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(limit.Limit, limit.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	limiter := b.limiter
	l.mu.Unlock()

	res := limiter.Reserve()
	if !res.OK() {
		return Decision{Allowed: false, RetryAfter: time.Second}
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

// Trim removes buckets untouched for longer than staleAfter, bounding
// memory use under many distinct remote addresses over time.
func (l *Limiter) Trim() int {
	cutoff := time.Now().Add(-staleAfter)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Message renders a structured "too many requests" body (spec §4.15).
func Message(d Decision) string {
	return fmt.Sprintf("too many requests, retry after %s", d.RetryAfter.Round(time.Millisecond))
}
