package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Veraticus/mail-alfred/internal/service"
)

// ErrMaxRetries indicates that all retry attempts have been exhausted.
var ErrMaxRetries = errors.New("max retries exceeded")

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// WithRetry executes an operation with configurable retry behavior. The
// operation receives its 1-based attempt number. Non-retryable errors and
// cancellation are returned as is; exhaustion wraps both ErrMaxRetries and
// the last error.
func WithRetry(ctx context.Context, operation func(attempt int) error, opts service.RetryOptions) error {
	opts = normalizeRetryOptions(opts)

	retryable := opts.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; ; attempt++ {
		err := operation(attempt)
		if err == nil {
			return nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}

		if !retryable(err) {
			return err
		}

		if attempt >= opts.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetries, attempt, err)
		}

		delay := Backoff(opts, attempt, rand.Float64())
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay, err)
		} else {
			slog.Warn("operation failed, retrying",
				"attempt", attempt,
				"max_attempts", opts.MaxAttempts,
				"delay", delay,
				"error", err)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
