package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/mail-alfred/internal/cli"
	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/config"
	"github.com/Veraticus/mail-alfred/internal/credential"
	"github.com/Veraticus/mail-alfred/internal/dedup"
	"github.com/Veraticus/mail-alfred/internal/engine"
	"github.com/Veraticus/mail-alfred/internal/gmail"
	"github.com/Veraticus/mail-alfred/internal/imap"
	"github.com/Veraticus/mail-alfred/internal/llm"
	"github.com/Veraticus/mail-alfred/internal/mailbox"
	"github.com/Veraticus/mail-alfred/internal/metrics"
	"github.com/Veraticus/mail-alfred/internal/model"
	"github.com/Veraticus/mail-alfred/internal/service"
	"github.com/Veraticus/mail-alfred/internal/storage"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Classify unlabeled messages",
		Long: `Scan the mailbox newest first, classify every message that has no
classification label yet and write the chosen label back.

Use --watch to keep polling for new mail.`,
		Example: `  alfred run --dry-run -v
  alfred run -n 20 -c 4
  alfred run --watch --interval 60 --seen-cache`,
		RunE: runClassification,
	}

	cmd.Flags().IntP("limit", "n", 0, "Maximum number of messages to classify (0 = no limit)")
	cmd.Flags().Int("scan-limit", 0, "Maximum number of messages to scan (0 = no limit)")
	cmd.Flags().Bool("dry-run", false, "Classify without writing labels")
	cmd.Flags().BoolP("verbose", "v", false, "Show every outcome, not only messages that need action")
	cmd.Flags().BoolP("watch", "w", false, "Keep polling for new messages")
	cmd.Flags().Int("interval", int(model.DefaultWatchInterval/time.Second), "Seconds between polls in watch mode")
	cmd.Flags().IntP("concurrency", "c", model.DefaultConcurrency, "Maximum classification calls in flight")
	cmd.Flags().Bool("seen-cache", false, "Stop scanning at the last settled message of the previous run")
	cmd.Flags().String("source", "", "Message source (gmail, imap, demo)")

	bindings := map[string]string{
		"run.limit":       "limit",
		"run.scan_limit":  "scan-limit",
		"run.dry_run":     "dry-run",
		"run.verbose":     "verbose",
		"run.watch":       "watch",
		"run.interval":    "interval",
		"run.concurrency": "concurrency",
		"run.seen_cache":  "seen-cache",
		"source.kind":     "source",
	}
	for key, flag := range bindings {
		_ = viper.BindPFlag(key, cmd.Flags().Lookup(flag))
	}

	return cmd
}

func runClassification(cmd *cobra.Command, _ []string) error {
	runCfg, err := config.LoadRunConfig()
	if err != nil {
		return common.NewUserError("invalid run configuration", err)
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx := interrupts.HandleInterrupts(cmd.Context(), runCfg.Watch())
	logger := slog.Default()

	secrets := openSecrets()

	kind, err := config.SourceKind()
	if err != nil {
		return err
	}
	if kind == config.SourceDemo && !viper.IsSet("llm.provider") {
		viper.Set("llm.provider", llm.ProviderMock)
	}

	llmCfg, err := config.LoadLLMConfig(secrets, runCfg.ClassifyTimeout)
	if err != nil {
		return err
	}

	taxonomy := model.DefaultTaxonomy()
	classifier, err := llm.NewClassifier(llmCfg, taxonomy, logger,
		llm.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			logger.Debug("classification retry scheduled", "attempt", attempt, "delay", delay, "error", err)
		}))
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}

	source, err := openSource(ctx, kind, secrets, logger)
	if err != nil {
		return err
	}
	if closer, ok := source.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Debug("failed to close message source", "error", err)
			}
		}()
	}

	var cache service.SeenCache
	if runCfg.UseSeenCache {
		cache, err = openSeenCache(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = cache.Close() }()
	}
	gate := dedup.NewGate(taxonomy, cache, logger)

	if addr := config.MetricsAddr(); addr != "" {
		server, err := metrics.NewServer(addr, logger)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		go func() {
			if err := server.Run(ctx); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	out := cmd.OutOrStdout()
	reporter := cli.NewReporter(out, taxonomy, runCfg.Verbose, runCfg.DryRun)

	opts := []engine.Option{
		engine.WithOutcomeHandler(reporter.Outcome),
		engine.WithScanHandler(reporter.Scanned),
	}
	if runCfg.Watch() {
		opts = append(opts,
			engine.WithCycleHandler(reporter.CycleSummary),
			engine.WithWaiter(reporter.Countdown),
		)
	}
	orchestrator := engine.NewOrchestrator(source, classifier, gate, runCfg, logger, opts...)

	if runCfg.Watch() {
		reporter.WatchBanner(source.Scope(), runCfg.WatchInterval)
		return orchestrator.Watch(ctx, runCfg.WatchInterval)
	}

	if !runCfg.Verbose {
		reporter.AttachProgress(cli.NewProgress(cmd.ErrOrStderr(), "Classifying messages..."))
	}

	summary, err := orchestrator.RunOnce(ctx)
	if err != nil {
		reporter.AttachProgress(nil)
		return fmt.Errorf("classification run failed: %w", err)
	}
	reporter.Summary(summary)

	if interrupts.WasInterrupted() {
		logger.Info("run interrupted", summary.LogAttrs()...)
	}
	return nil
}

// openSecrets opens the keyring. Secrets can still come from the
// environment when it is unavailable.
func openSecrets() config.SecretStore {
	store, err := credential.Open(config.Dir())
	if err != nil {
		slog.Debug("keyring unavailable", "error", err)
		return nil
	}
	return store
}

func openSource(ctx context.Context, kind string, secrets config.SecretStore, logger *slog.Logger) (service.MessageSource, error) {
	switch kind {
	case config.SourceIMAP:
		opts, err := config.LoadIMAPConfig(secrets)
		if err != nil {
			return nil, err
		}
		source, err := imap.NewSource(ctx, opts, logger)
		if err != nil {
			return nil, sourceError(err)
		}
		return source, nil
	case config.SourceDemo:
		logger.Info("using the built-in demo mailbox")
		return mailbox.NewDemoSource(time.Now()), nil
	default:
		source, err := gmail.NewSource(ctx, config.LoadGmailConfig(), logger)
		if err != nil {
			return nil, sourceError(err)
		}
		return source, nil
	}
}

func sourceError(err error) error {
	var userErr *common.UserError
	if errors.As(err, &userErr) {
		return err
	}
	if errors.Is(err, common.ErrPermissionDenied) {
		return common.NewUserError("the mailbox rejected the credentials; run 'alfred auth' to refresh them", err)
	}
	return common.NewUserError("failed to connect to the mailbox", err)
}

func openSeenCache(ctx context.Context) (service.SeenCache, error) {
	cfg := config.LoadSeenCacheConfig()
	cache, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, common.NewUserError(fmt.Sprintf("failed to open %s seen-cache", cfg.Backend), err)
	}
	return cache, nil
}
