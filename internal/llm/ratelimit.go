package llm

import (
	"time"

	"golang.org/x/time/rate"
)

// newRateLimiter allows requestsPerMinute calls per minute with a burst of
// the same size. Zero or negative means unlimited.
func newRateLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute)
}
