package common

import (
	"math"
	"time"

	"github.com/Veraticus/mail-alfred/internal/service"
)

// Default retry settings, matching the provider-call policy: five attempts,
// two second base delay, one minute ceiling.
const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 2 * time.Second
	DefaultMaxDelay     = 60 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitter       = 0.2
)

// normalizeRetryOptions fills zero values with defaults.
func normalizeRetryOptions(opts service.RetryOptions) service.RetryOptions {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.MaxDelay < opts.InitialDelay {
		opts.MaxDelay = opts.InitialDelay
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = DefaultMultiplier
	}
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	return opts
}

// Backoff returns the delay before retry number attempt (1-based) for a
// random sample r in [0, 1).
//
// Jitter only stretches a delay upward and is bounded by multiplier-1, so a
// jittered delay never exceeds the next unjittered one. Successive delays are
// therefore non-decreasing until they reach MaxDelay.
func Backoff(opts service.RetryOptions, attempt int, r float64) time.Duration {
	opts = normalizeRetryOptions(opts)
	if attempt < 1 {
		attempt = 1
	}

	base := float64(opts.InitialDelay) * math.Pow(opts.Multiplier, float64(attempt-1))
	limit := float64(opts.MaxDelay)
	if base >= limit {
		return opts.MaxDelay
	}

	jitter := math.Min(opts.Jitter, opts.Multiplier-1)
	r = math.Min(math.Max(r, 0), 1)
	delay := base * (1 + r*jitter)
	if delay > limit {
		return opts.MaxDelay
	}
	return time.Duration(delay)
}
