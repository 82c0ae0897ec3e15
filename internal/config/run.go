package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/model"
	"github.com/Veraticus/mail-alfred/internal/storage"
)

// LoadRunConfig builds the immutable run configuration from the run.* keys,
// which the CLI binds to its flags, and validates it.
func LoadRunConfig() (model.RunConfig, error) {
	cfg := model.DefaultRunConfig()

	if viper.IsSet("run.concurrency") {
		cfg.Concurrency = viper.GetInt("run.concurrency")
	}
	if viper.IsSet("run.write_attempts") {
		cfg.WriteAttempts = viper.GetInt("run.write_attempts")
	}
	if d := viper.GetDuration("llm.timeout"); d > 0 {
		cfg.ClassifyTimeout = d
	}
	cfg.ClassifyLimit = viper.GetInt("run.limit")
	cfg.ScanLimit = viper.GetInt("run.scan_limit")
	cfg.DryRun = viper.GetBool("run.dry_run")
	cfg.Verbose = viper.GetBool("run.verbose")
	cfg.UseSeenCache = viper.GetBool("run.seen_cache")

	if viper.GetBool("run.watch") {
		interval := model.DefaultWatchInterval
		if viper.IsSet("run.interval") {
			interval = time.Duration(viper.GetInt("run.interval")) * time.Second
		}
		if interval <= 0 {
			return cfg, fmt.Errorf("%w: watch interval must be positive", common.ErrInvalidConfig)
		}
		cfg.WatchInterval = interval
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// DefaultSeenCachePath is the SQLite seen-cache location.
func DefaultSeenCachePath() string {
	return filepath.Join(Dir(), "seen.db")
}

// LoadSeenCacheConfig reads the seen_cache.* keys.
func LoadSeenCacheConfig() storage.Config {
	cfg := storage.Config{
		Backend:  viper.GetString("seen_cache.backend"),
		Path:     viper.GetString("seen_cache.path"),
		RedisURL: viper.GetString("seen_cache.redis_url"),
	}
	if cfg.Backend == "" {
		cfg.Backend = storage.BackendSQLite
	}
	if cfg.Path == "" {
		cfg.Path = DefaultSeenCachePath()
	}
	cfg.Path = ExpandPath(cfg.Path)
	if cfg.RedisURL == "" {
		cfg.RedisURL = os.Getenv("REDIS_URL")
	}
	return cfg
}

// MetricsAddr returns the listen address of the metrics server, empty when
// metrics are not served.
func MetricsAddr() string {
	return viper.GetString("metrics.addr")
}
