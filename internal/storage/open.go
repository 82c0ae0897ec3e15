package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/service"
)

// Seen-cache backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config selects and locates a seen-cache backend.
type Config struct {
	Backend  string
	Path     string
	RedisURL string
}

// Open returns a ready seen-cache for cfg, migrating SQLite databases.
func Open(ctx context.Context, cfg Config) (service.SeenCache, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		store, err := NewSQLiteStorage(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to migrate seen-cache: %w", err)
		}
		return store, nil
	case BackendMemory:
		return NewMemoryStorage(), nil
	case BackendRedis:
		return NewRedisStorage(ctx, cfg.RedisURL)
	default:
		return nil, fmt.Errorf("%w: unknown seen-cache backend %q", common.ErrInvalidConfig, cfg.Backend)
	}
}
