// Package engine runs the triage pipeline: scan a mailbox, filter out
// classified messages, classify the rest with bounded concurrency and write
// the labels back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/dedup"
	"github.com/Veraticus/mail-alfred/internal/metrics"
	"github.com/Veraticus/mail-alfred/internal/model"
	"github.com/Veraticus/mail-alfred/internal/service"
)

// Write retry defaults. Label writes are cheap and idempotent, so they are
// retried sooner than classification calls.
const (
	DefaultWriteTimeout      = 30 * time.Second
	defaultWriteInitialDelay = time.Second
	defaultWriteMaxDelay     = 10 * time.Second
	commitTimeout            = 10 * time.Second
)

// Orchestrator drives scan cycles over one message source.
type Orchestrator struct {
	source       service.MessageSource
	bodies       service.BodyLoader
	classifier   service.Classifier
	gate         *dedup.Gate
	logger       *slog.Logger
	onOutcome    func(model.Outcome)
	onScanned    func(model.Message)
	onCycle      func(cycle int, summary model.Summary, err error)
	wait         func(ctx context.Context, d time.Duration) error
	writeRetry   service.RetryOptions
	cfg          model.RunConfig
	writeTimeout time.Duration
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithOutcomeHandler registers fn to receive each outcome as it happens.
// Calls are serialized.
func WithOutcomeHandler(fn func(model.Outcome)) Option {
	return func(o *Orchestrator) { o.onOutcome = fn }
}

// WithScanHandler registers fn to receive each newly scanned message.
func WithScanHandler(fn func(model.Message)) Option {
	return func(o *Orchestrator) { o.onScanned = fn }
}

// WithCycleHandler registers fn to run after every watch cycle.
func WithCycleHandler(fn func(cycle int, summary model.Summary, err error)) Option {
	return func(o *Orchestrator) { o.onCycle = fn }
}

// WithWaiter replaces the pause between watch cycles, e.g. with a countdown.
func WithWaiter(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.wait = fn }
}

// WithWriteRetry overrides the label write retry policy. MaxAttempts is
// always taken from RunConfig.WriteAttempts.
func WithWriteRetry(opts service.RetryOptions) Option {
	return func(o *Orchestrator) { o.writeRetry = opts }
}

// WithWriteTimeout bounds the whole label write, retries included.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.writeTimeout = d }
}

// NewOrchestrator wires a source, a classifier and a dedup gate. If the
// source also implements service.BodyLoader, bodies are fetched only for
// messages that are classified.
func NewOrchestrator(source service.MessageSource, classifier service.Classifier, gate *dedup.Gate, cfg model.RunConfig, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		source:     source,
		classifier: classifier,
		gate:       gate,
		cfg:        cfg,
		logger:     logger,
		wait:       common.Sleep,
		writeRetry: service.RetryOptions{
			InitialDelay: defaultWriteInitialDelay,
			MaxDelay:     defaultWriteMaxDelay,
			Multiplier:   common.DefaultMultiplier,
			Jitter:       common.DefaultJitter,
		},
		writeTimeout: DefaultWriteTimeout,
	}
	if loader, ok := source.(service.BodyLoader); ok {
		o.bodies = loader
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run holds the state of a single cycle.
type run struct {
	agg     *Aggregator
	cycle   *dedup.Cycle
	logger  *slog.Logger
	pending sync.WaitGroup // outcomes not yet recorded
	mu      sync.Mutex
}

// RunOnce performs one scan cycle and returns its summary. It returns an
// error only when the source failed before yielding any message; later
// source failures end the scan and the submitted work still drains.
// Cancellation ends the cycle early without an error.
func (o *Orchestrator) RunOnce(ctx context.Context) (model.Summary, error) {
	start := time.Now()
	scope := o.source.Scope()

	r := &run{
		agg:    NewAggregator(),
		cycle:  o.gate.Begin(ctx, scope),
		logger: o.logger.With("run_id", uuid.NewString()),
	}
	r.logger.Info("starting scan",
		"scope", scope,
		"dry_run", o.cfg.DryRun,
		"concurrency", o.cfg.Concurrency,
		"scan_limit", o.cfg.ScanLimit,
		"classify_limit", o.cfg.ClassifyLimit,
		"seen_mark", r.cycle.Mark())

	ctrl := NewController(ctx, o.cfg.Concurrency)

	scanErr := o.scan(ctx, r, ctrl)
	ctrl.Wait()
	r.pending.Wait()

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	r.cycle.Commit(commitCtx)
	cancel()

	summary := r.agg.Summary()
	r.logger.Info("scan complete",
		"outcomes", r.agg.Counts(),
		"duration", time.Since(start).Round(time.Millisecond))

	metrics.LastCycle.SetToCurrentTime()
	if scanErr != nil && summary.Scanned == 0 {
		metrics.Cycles.WithLabelValues("error").Inc()
		return summary, fmt.Errorf("failed to scan %s: %w", scope, scanErr)
	}
	metrics.Cycles.WithLabelValues("ok").Inc()
	return summary, nil
}

// scan enumerates the source and submits every message that needs a label.
// It returns the error that ended the scan, if any.
func (o *Orchestrator) scan(ctx context.Context, r *run, ctrl *Controller) error {
	var (
		seen       = make(map[string]bool)
		yielded    int
		submitted  int
		stopped    bool
		incomplete bool
		scanErr    error
	)

	for msg, err := range o.source.Scan(ctx, o.cfg.ScanLimit) {
		if o.cfg.ScanLimit > 0 && yielded >= o.cfg.ScanLimit {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				stopped = true
				break
			}
			if errors.Is(err, common.ErrNotFound) {
				// vanished between listing and fetching
				r.logger.Debug("skipping unreadable message", "error", err)
				incomplete = true
				continue
			}
			r.logger.Warn("scan ended by source error", "error", err)
			scanErr = err
			stopped = true
			break
		}
		yielded++

		if ctx.Err() != nil {
			stopped = true
			break
		}
		if r.cycle.Seen(msg.ID) {
			r.logger.Debug("reached seen-cache mark", "message_id", msg.ID)
			stopped = true
			break
		}
		if seen[msg.ID] {
			r.logger.Debug("duplicate message in scan", "message_id", msg.ID)
			continue
		}
		if o.cfg.ClassifyLimit > 0 && submitted >= o.cfg.ClassifyLimit {
			r.logger.Info("classify limit reached", "limit", o.cfg.ClassifyLimit)
			stopped = true
			break
		}
		seen[msg.ID] = true

		r.agg.AddScanned(1)
		r.cycle.Observe(msg.ID)
		metrics.MessagesScanned.Inc()
		if o.onScanned != nil {
			o.onScanned(msg)
		}

		if !o.gate.ShouldProcess(msg) {
			o.record(r, model.Skipped(msg, model.SkipAlreadyClassified))
			continue
		}

		submitted++
		future := ctrl.Submit(msg, o.task(msg, r.logger))
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			o.record(r, future.Wait())
		}()
	}

	limited := o.cfg.ScanLimit > 0 && yielded >= o.cfg.ScanLimit
	if !stopped && !incomplete && !limited {
		r.cycle.Exhausted()
	}
	return scanErr
}

// task builds the unit of work for one message: load the body, classify,
// release the admission slot, then write the label.
func (o *Orchestrator) task(msg model.Message, logger *slog.Logger) Task {
	return func(ctx context.Context, release func()) model.Outcome {
		logger := logger.With("message_id", msg.ID)

		full := msg
		if o.bodies != nil {
			loaded, err := o.bodies.LoadBody(ctx, msg)
			switch {
			case err == nil:
				full = loaded
			case ctx.Err() != nil:
				return model.Skipped(msg, model.SkipCanceled)
			default:
				logger.Warn("failed to load message body, classifying from snippet", "error", err)
			}
		}

		result, err := o.classifier.Classify(ctx, full)
		release()
		if err != nil {
			var classifyErr *common.ClassifyError
			if ctx.Err() != nil && !errors.As(err, &classifyErr) {
				return model.Skipped(msg, model.SkipCanceled)
			}
			kind := common.KindOf(err)
			if kind == "" {
				kind = model.ErrorKindFatalProvider
			}
			attempts := result.Attempts
			if classifyErr != nil {
				attempts = classifyErr.Attempts
			}
			return model.Failed(msg, kind, err, attempts)
		}

		if !o.gate.Taxonomy().Contains(result.Label) {
			err := fmt.Errorf("%w: %q", common.ErrSchemaViolation, result.Label)
			return model.Failed(msg, model.ErrorKindSchemaViolation, err, result.Attempts)
		}

		if o.cfg.DryRun {
			return model.Applied(msg, result, true)
		}

		if err := o.applyLabel(ctx, msg.ID, result.Label, logger); err != nil {
			return model.WriteFailed(msg, result, err)
		}
		return model.Applied(msg, result, false)
	}
}

// applyLabel writes the label under a context detached from cancellation,
// so an interrupt never abandons a write half way. Only source
// unavailability is retried.
func (o *Orchestrator) applyLabel(ctx context.Context, id string, label model.Label, logger *slog.Logger) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.writeTimeout)
	defer cancel()

	opts := o.writeRetry
	opts.MaxAttempts = o.cfg.WriteAttempts
	opts.Retryable = func(err error) bool {
		return errors.Is(err, common.ErrSourceUnavailable)
	}
	opts.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("label write failed, retrying", "label", label, "attempt", attempt, "delay", delay, "error", err)
	}

	err := common.WithRetry(writeCtx, func(int) error {
		err := o.source.ApplyLabel(writeCtx, id, label)
		if err != nil {
			metrics.LabelWrites.WithLabelValues("error").Inc()
			return err
		}
		metrics.LabelWrites.WithLabelValues("ok").Inc()
		return nil
	}, opts)
	if err != nil {
		return fmt.Errorf("%w: %s on %s: %w", common.ErrWriteFailure, label, id, err)
	}
	return nil
}

// record routes a terminal outcome to the aggregator, the dedup cycle, the
// metrics and the observer.
func (o *Orchestrator) record(r *run, out model.Outcome) {
	r.agg.Record(out)
	r.cycle.Record(out)
	metrics.Outcomes.WithLabelValues(out.Category()).Inc()

	switch out.Kind {
	case model.OutcomeApplied:
		r.logger.Info("message classified",
			"message_id", out.Message.ID,
			"label", out.Label,
			"attempts", out.Attempts,
			"dry_run", out.DryRun)
	case model.OutcomeFailed:
		r.logger.Warn("message failed",
			"message_id", out.Message.ID,
			"kind", out.ErrorKind,
			"attempts", out.Attempts,
			"error", out.Err)
	default:
		r.logger.Debug("message skipped", "message_id", out.Message.ID, "reason", out.SkipReason)
	}

	if o.onOutcome != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		o.onOutcome(out)
	}
}

// Watch runs cycles until ctx is canceled, pausing interval between them.
// Cycle errors are logged and the loop continues. The dedup gate, and so
// the seen-cache mark, carries over from one cycle to the next.
func (o *Orchestrator) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: watch interval must be positive", common.ErrInvalidConfig)
	}
	o.logger.Info("watching mailbox", "scope", o.source.Scope(), "interval", interval)

	for cycle := 1; ; cycle++ {
		summary, err := o.RunOnce(ctx)
		if err != nil {
			o.logger.Error("cycle failed", "cycle", cycle, "error", err)
		}
		if o.onCycle != nil {
			o.onCycle(cycle, summary, err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := o.wait(ctx, interval); err != nil {
			return nil
		}
	}
}
