// Package ratelimit provides a keyed token-bucket limiter for the simulation
// endpoints. Budgets are counted in path steps; capacities and refill rates
// are configured in units of 1000 path steps.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Unit is the number of path steps one configured token stands for.
const Unit = 1000

// Limiter holds one token bucket per key. All buckets share capacity and
// refill rate; buckets that have refilled completely are dropped.
type Limiter struct {
	mu     sync.Mutex
	m      map[string]*rate.Limiter
	burst  int
	limit  rate.Limit
	now    func() time.Time
	sweeps int
}

// New creates a limiter allowing bursts of capacity and refillPerSec
// sustained units per key. A non-positive capacity disables limiting.
func New(capacity, refillPerSec float64) *Limiter {
	return &Limiter{
		m:     make(map[string]*rate.Limiter),
		burst: int(capacity * Unit),
		limit: rate.Limit(refillPerSec * Unit),
		now:   time.Now,
	}
}

// Allow consumes weight units for key. When they are not available it
// reports how long until they would be; zero means never, which is the case
// for any weight above the capacity.
func (l *Limiter) Allow(key string, weight float64) (bool, time.Duration) {
	if l == nil || l.burst <= 0 {
		return true, 0
	}
	// a request larger than the bucket can never be served
	if weight*Unit > float64(l.burst) {
		return false, 0
	}
	n := int(math.Ceil(weight * Unit))
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.m[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.m[key] = lim
	}

	r := lim.ReserveN(now, n)
	allowed, wait := r.OK(), time.Duration(0)
	if allowed {
		if wait = r.DelayFrom(now); wait > 0 {
			r.CancelAt(now)
			allowed = false
		}
	}
	l.sweep(now)
	return allowed, wait
}

// sweep drops full buckets every 256 calls. Callers hold mu.
func (l *Limiter) sweep(now time.Time) {
	l.sweeps++
	if l.sweeps%256 != 0 || l.limit <= 0 {
		return
	}
	for k, lim := range l.m {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.m, k)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
