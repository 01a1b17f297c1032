package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/sagabank/sagabank/pkg/api/response"
)

// RateLimiter throttles requests with a shared token bucket. Limits can
// be adjusted at runtime for config hot reload.
type RateLimiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	enabled bool
}

// NewRateLimiter creates a rate limiter allowing rps requests per second
// with the given burst.
func NewRateLimiter(enabled bool, rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		enabled: enabled,
	}
}

// Update replaces the limits. Pending tokens are not carried over.
func (rl *RateLimiter) Update(enabled bool, rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.enabled = enabled
	rl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Allow reports whether a request may proceed.
func (rl *RateLimiter) Allow() bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if !rl.enabled {
		return true
	}
	return rl.limiter.Allow()
}

// RateLimit returns a middleware that rejects requests over the limit
// with 429.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow() {
				response.Error(w,
					http.StatusTooManyRequests,
					response.ErrCodeTooManyRequests,
					"rate limit exceeded",
					GetRequestID(r.Context()),
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
