// Package ratelimit throttles per-user job submission so a single
// account cannot monopolize the claim queue or the VM pool.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per user, created lazily on first use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

// New builds a Limiter allowing, per user, burst immediate requests and
// a steady-state rate of rps requests per second thereafter.
func New(rps float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

// Allow reports whether userID may make a request right now, consuming
// a token if so.
func (l *Limiter) Allow(userID string) bool {
	return l.bucketFor(userID).Allow()
}

func (l *Limiter) bucketFor(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[userID]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[userID] = b
	}
	return b
}
