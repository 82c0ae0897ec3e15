package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/metrics"
	"github.com/Veraticus/mail-alfred/internal/model"
	"github.com/Veraticus/mail-alfred/internal/service"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = model.DefaultClassifyTimeout

// Config holds configuration for the LLM classifier.
type Config struct {
	Provider      string
	APIKey        string
	Model         string
	BaseURL       string
	ServiceTier   string
	SystemPrompt  string // empty selects the built-in prompt
	MaxRetries    int    // total attempts per message
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Timeout       time.Duration
	CacheTTL      time.Duration // negative disables the result cache
	RateLimit     int           // requests per minute, zero for unlimited
	Temperature   float64
	MaxTokens     int
}

// Classifier implements service.Classifier on top of a Client. Every call
// is rate limited, bounded by a per-attempt timeout, validated against the
// taxonomy and retried with jittered exponential backoff when the failure
// is transient.
type Classifier struct {
	client      Client
	cache       *resultCache
	logger      *slog.Logger
	rateLimiter *rate.Limiter
	now         func() time.Time
	provider    string
	system      string
	taxonomy    model.Taxonomy
	retryOpts   service.RetryOptions
	timeout     time.Duration
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithSleep replaces the backoff sleep, letting tests observe waits
// without real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Classifier) { c.retryOpts.Sleep = sleep }
}

// WithOnRetry registers a hook called before each backoff wait.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(c *Classifier) { c.retryOpts.OnRetry = fn }
}

// WithClock replaces the time source used in prompts.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// NewClassifier creates a classifier with the provider client selected by cfg.
func NewClassifier(cfg Config, taxonomy model.Taxonomy, logger *slog.Logger, opts ...Option) (*Classifier, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return NewClassifierWithClient(client, cfg, taxonomy, logger, opts...), nil
}

// NewClassifierWithClient wraps an existing client.
func NewClassifierWithClient(client Client, cfg Config, taxonomy model.Taxonomy, logger *slog.Logger, opts ...Option) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
		Multiplier:   common.DefaultMultiplier,
		Jitter:       common.DefaultJitter,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	system := cfg.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt()
	}

	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = "custom"
	}

	c := &Classifier{
		client:      client,
		cache:       newResultCache(cfg.CacheTTL),
		logger:      logger.With("component", "classifier"),
		rateLimiter: newRateLimiter(cfg.RateLimit),
		now:         time.Now,
		provider:    provider,
		system:      system,
		taxonomy:    taxonomy,
		retryOpts:   retryOpts,
		timeout:     timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns a validated label for msg. A failure that exhausts the
// attempt ceiling, or that is not retryable, is returned as a
// *common.ClassifyError carrying the last error kind. Cancellation of ctx is
// returned unwrapped.
func (c *Classifier) Classify(ctx context.Context, msg model.Message) (model.ClassifiedResult, error) {
	if cached, ok := c.cache.get(msg.ID); ok {
		c.logger.Debug("cache hit for message", "message_id", msg.ID, "label", cached.Label)
		cached.Attempts = 0
		return cached, nil
	}

	req := Request{
		System: c.system,
		Prompt: BuildPrompt(msg, c.taxonomy, c.now()),
		Labels: c.taxonomy.Names(),
	}

	opts := c.retryOpts
	if opts.OnRetry == nil {
		opts.OnRetry = func(attempt int, delay time.Duration, err error) {
			c.logger.Warn("classification attempt failed, retrying",
				"message_id", msg.ID,
				"attempt", attempt,
				"delay", delay.Round(time.Millisecond),
				"error", err)
		}
	}

	var (
		result   model.ClassifiedResult
		lastErr  error
		attempts int
	)
	err := common.WithRetry(ctx, func(attempt int) error {
		attempts = attempt
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit error: %w", err)
		}

		r, err := c.attempt(ctx, req)
		if err != nil {
			lastErr = err
			return err
		}
		result = r
		return nil
	}, opts)

	if err != nil {
		if ctx.Err() != nil {
			return model.ClassifiedResult{Attempts: attempts}, err
		}
		kind := common.KindOf(lastErr)
		if kind == "" {
			kind = model.ErrorKindFatalProvider
		}
		c.logger.Warn("classification failed",
			"message_id", msg.ID,
			"kind", kind,
			"attempts", attempts,
			"error", err)
		return model.ClassifiedResult{Attempts: attempts}, &common.ClassifyError{Err: err, Kind: kind, Attempts: attempts}
	}

	result.Attempts = attempts
	c.cache.set(msg.ID, result)
	c.logger.Debug("message classified",
		"message_id", msg.ID,
		"label", result.Label,
		"attempts", attempts)
	return result, nil
}

// attempt performs one bounded provider call and validates its answer.
func (c *Classifier) attempt(ctx context.Context, req Request) (model.ClassifiedResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.client.Classify(attemptCtx, req)
	metrics.ClassifyLatency.WithLabelValues(c.provider).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, common.ErrTransientProvider) {
			err = fmt.Errorf("%w: attempt timed out after %s: %w", common.ErrTransientProvider, c.timeout, err)
		}
		c.observe(err)
		return model.ClassifiedResult{}, err
	}

	result, err := c.validate(raw)
	c.observe(err)
	return result, err
}

// validate enforces the closed label set and the confidence range.
func (c *Classifier) validate(raw RawClassification) (model.ClassifiedResult, error) {
	label, err := c.taxonomy.Resolve(raw.Label)
	if err != nil {
		return model.ClassifiedResult{}, fmt.Errorf("%w: %w", common.ErrSchemaViolation, err)
	}

	result := model.ClassifiedResult{
		Label:     label,
		Reasoning: strings.TrimSpace(raw.Reasoning),
	}
	if raw.Confidence != nil {
		conf := *raw.Confidence
		if conf < 0 || conf > 1 {
			return model.ClassifiedResult{}, fmt.Errorf("%w: confidence %v outside [0, 1]", common.ErrSchemaViolation, conf)
		}
		result.Confidence = conf
	}
	return result, nil
}

func (c *Classifier) observe(err error) {
	result := "ok"
	if err != nil {
		result = string(common.KindOf(err))
		if result == "" {
			result = "other"
		}
	}
	metrics.ClassifyAttempts.WithLabelValues(c.provider, result).Inc()
}
