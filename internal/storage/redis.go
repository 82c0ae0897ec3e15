package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/model"
)

const defaultRedisPrefix = "alfred:seen:"

// advanceScript stores ARGV[1] only when it orders after the current mark:
// longer IDs are newer, equal lengths compare bytewise.
var advanceScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'highest_id')
local id = ARGV[1]
if cur then
	if #id < #cur or (#id == #cur and id <= cur) then
		return 0
	end
end
redis.call('HSET', KEYS[1], 'highest_id', id, 'updated_at', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return 1
`)

// RedisStorage is a seen-cache shared through Redis, for running several
// watchers against one mailbox.
type RedisStorage struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStorage connects to the Redis server at url.
func NewRedisStorage(ctx context.Context, url string) (*RedisStorage, error) {
	if err := validateString(url, "url"); err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse redis URL: %w", common.ErrInvalidConfig, err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorageWithClient(rdb, ""), nil
}

// NewRedisStorageWithClient wraps an existing client. An empty prefix uses
// the default key namespace.
func NewRedisStorageWithClient(rdb *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStorage{rdb: rdb, prefix: prefix}
}

func (r *RedisStorage) key(scope string) string { return r.prefix + scope }
func (r *RedisStorage) indexKey() string        { return r.prefix + "scopes" }

// Close closes the Redis connection.
func (r *RedisStorage) Close() error {
	return r.rdb.Close()
}

// GetSeen returns the high-water mark for scope, or common.ErrNotFound.
func (r *RedisStorage) GetSeen(ctx context.Context, scope string) (*model.SeenCacheEntry, error) {
	if err := validateString(scope, "scope"); err != nil {
		return nil, err
	}

	fields, err := r.rdb.HGetAll(ctx, r.key(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read seen mark: %w", err)
	}
	entry, ok := entryFromHash(scope, fields)
	if !ok {
		return nil, fmt.Errorf("seen mark for %s: %w", scope, common.ErrNotFound)
	}
	return &entry, nil
}

// AdvanceSeen moves the mark forward atomically on the server.
func (r *RedisStorage) AdvanceSeen(ctx context.Context, scope, id string) error {
	if err := validateString(scope, "scope"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := advanceScript.Run(ctx, r.rdb, []string{r.key(scope), r.indexKey()}, id, now, scope).Err()
	if err != nil {
		return fmt.Errorf("failed to advance seen mark: %w", err)
	}
	return nil
}

// ListSeen returns every stored mark ordered by scope.
func (r *RedisStorage) ListSeen(ctx context.Context) ([]model.SeenCacheEntry, error) {
	scopes, err := r.rdb.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list seen marks: %w", err)
	}
	slices.Sort(scopes)

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(scopes))
	for i, scope := range scopes {
		cmds[i] = pipe.HGetAll(ctx, r.key(scope))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read seen marks: %w", err)
	}

	entries := make([]model.SeenCacheEntry, 0, len(scopes))
	for i, scope := range scopes {
		if entry, ok := entryFromHash(scope, cmds[i].Val()); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// ClearSeen deletes the mark for scope. An empty scope clears every mark.
func (r *RedisStorage) ClearSeen(ctx context.Context, scope string) error {
	scopes := []string{scope}
	if scope == "" {
		var err error
		if scopes, err = r.rdb.SMembers(ctx, r.indexKey()).Result(); err != nil {
			return fmt.Errorf("failed to list seen marks: %w", err)
		}
	}

	pipe := r.rdb.TxPipeline()
	for _, s := range scopes {
		pipe.Del(ctx, r.key(s))
		pipe.SRem(ctx, r.indexKey(), s)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear seen marks: %w", err)
	}
	return nil
}

func entryFromHash(scope string, fields map[string]string) (model.SeenCacheEntry, bool) {
	id := fields["highest_id"]
	if id == "" {
		return model.SeenCacheEntry{}, false
	}
	updated, _ := time.Parse(time.RFC3339Nano, fields["updated_at"])
	return model.SeenCacheEntry{Scope: scope, HighestID: id, UpdatedAt: updated}, true
}
