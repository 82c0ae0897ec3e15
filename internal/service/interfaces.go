// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"iter"
	"time"

	"github.com/Veraticus/mail-alfred/internal/model"
)

// MessageSource enumerates a mailbox and writes labels back to it.
type MessageSource interface {
	// Scope identifies the mailbox, e.g. "gmail:me@example.com/INBOX". It keys
	// the seen-cache.
	Scope() string

	// Scan yields messages newest first. A limit of zero means unlimited.
	// Enumeration errors are yielded as the second value; an error wrapping
	// common.ErrSourceUnavailable ends the scan.
	Scan(ctx context.Context, limit int) iter.Seq2[model.Message, error]

	// ApplyLabel adds label to the message. Applying a label the message
	// already carries is a no-op.
	ApplyLabel(ctx context.Context, messageID string, label model.Label) error
}

// BodyLoader is implemented by sources whose Scan yields metadata only. The
// full body is fetched just for messages that will be classified.
type BodyLoader interface {
	LoadBody(ctx context.Context, msg model.Message) (model.Message, error)
}

// Classifier assigns exactly one taxonomy label to a message.
type Classifier interface {
	Classify(ctx context.Context, msg model.Message) (model.ClassifiedResult, error)
}

// SeenCache persists the advisory high-water mark per mailbox scope.
type SeenCache interface {
	// GetSeen returns the entry for scope, or common.ErrNotFound.
	GetSeen(ctx context.Context, scope string) (*model.SeenCacheEntry, error)
	// AdvanceSeen stores id for scope only if it is greater than the
	// stored one under model.CompareIDs.
	AdvanceSeen(ctx context.Context, scope, id string) error
	ListSeen(ctx context.Context) ([]model.SeenCacheEntry, error)
	ClearSeen(ctx context.Context, scope string) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	// Sleep waits between attempts; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Retryable decides whether an error is worth another attempt.
	Retryable    func(err error) bool
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction of the delay added at random, at most Multiplier-1
}
