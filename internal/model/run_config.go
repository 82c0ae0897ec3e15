package model

import (
	"fmt"
	"time"
)

// Default run settings.
const (
	DefaultConcurrency     = 10
	DefaultWatchInterval   = 30 * time.Second
	DefaultClassifyTimeout = 15 * time.Minute
	DefaultWriteAttempts   = 3
)

// RunConfig is the immutable configuration of one invocation.
type RunConfig struct {
	WatchInterval   time.Duration // zero means a single pass
	ClassifyTimeout time.Duration
	Concurrency     int
	ScanLimit       int // zero means unlimited
	ClassifyLimit   int // zero means unlimited
	WriteAttempts   int
	DryRun          bool
	Verbose         bool
	UseSeenCache    bool
}

// DefaultRunConfig returns a single-pass configuration with default limits.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Concurrency:     DefaultConcurrency,
		ClassifyTimeout: DefaultClassifyTimeout,
		WriteAttempts:   DefaultWriteAttempts,
	}
}

// Watch reports whether the run polls continuously.
func (c RunConfig) Watch() bool {
	return c.WatchInterval > 0
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c RunConfig) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.ScanLimit < 0 {
		return fmt.Errorf("scan limit cannot be negative")
	}
	if c.ClassifyLimit < 0 {
		return fmt.Errorf("classify limit cannot be negative")
	}
	if c.WatchInterval < 0 {
		return fmt.Errorf("watch interval cannot be negative")
	}
	if c.ClassifyTimeout <= 0 {
		return fmt.Errorf("classify timeout must be positive")
	}
	if c.WriteAttempts < 1 {
		return fmt.Errorf("write attempts must be at least 1, got %d", c.WriteAttempts)
	}
	return nil
}

// SeenCacheEntry is the advisory high-water mark for one mailbox scope.
// The label on the message stays authoritative; an entry may be deleted at
// any time at the cost of a full rescan.
type SeenCacheEntry struct {
	UpdatedAt time.Time
	Scope     string
	HighestID string
}
