package server

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"strategyvaults/observability/metrics"
)

// RateLimit bounds requests per principal.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per principal. Buckets idle for
// longer than idleTTL are dropped on the next lookup.
type RateLimiter struct {
	limit    RateLimit
	metrics  *metrics.VaultMetrics
	mu       sync.Mutex
	visitors map[string]*rateEntry
	idleTTL  time.Duration
	clockNow func() time.Time
}

// NewRateLimiter returns a limiter enforcing limit. A zero limit disables
// limiting.
func NewRateLimiter(limit RateLimit, m *metrics.VaultMetrics) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		metrics:  m,
		visitors: make(map[string]*rateEntry),
		idleTTL:  5 * time.Minute,
		clockNow: time.Now,
	}
}

// Middleware rejects requests above the principal's budget with 429. It must
// run after authentication.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r == nil || r.limit.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, req)
			return
		}
		id := "anonymous"
		if principal, ok := PrincipalFromContext(req.Context()); ok {
			id = principal.Name
		}
		if !r.obtainLimiter(id).Allow() {
			r.metrics.ObserveRateLimited(id)
			writeMessage(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) obtainLimiter(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	for key, entry := range r.visitors {
		if key != id && now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.visitors, key)
		}
	}
	if entry, ok := r.visitors[id]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	perSecond := r.limit.RequestsPerMinute / 60.0
	burst := r.limit.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	r.visitors[id] = &rateEntry{limiter: limiter, lastSeen: now}
	return limiter
}
