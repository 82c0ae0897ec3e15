package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/model"
)

// MemoryStorage keeps seen marks for the life of the process. It suits
// watch mode when nothing should be written to disk.
type MemoryStorage struct {
	entries map[string]model.SeenCacheEntry
	mu      sync.RWMutex
}

// NewMemoryStorage returns an empty in-process seen-cache.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string]model.SeenCacheEntry)}
}

// GetSeen returns the mark for scope, or common.ErrNotFound.
func (m *MemoryStorage) GetSeen(_ context.Context, scope string) (*model.SeenCacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[scope]
	if !ok {
		return nil, fmt.Errorf("seen mark for %s: %w", scope, common.ErrNotFound)
	}
	return &entry, nil
}

// AdvanceSeen stores id when it orders after the current mark.
func (m *MemoryStorage) AdvanceSeen(_ context.Context, scope, id string) error {
	if err := validateString(scope, "scope"); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[scope]; ok && model.CompareIDs(id, cur.HighestID) <= 0 {
		return nil
	}
	m.entries[scope] = model.SeenCacheEntry{Scope: scope, HighestID: id, UpdatedAt: time.Now().UTC()}
	return nil
}

// ListSeen returns every mark ordered by scope.
func (m *MemoryStorage) ListSeen(_ context.Context) ([]model.SeenCacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.SeenCacheEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

// ClearSeen deletes the mark for scope, or every mark when scope is empty.
func (m *MemoryStorage) ClearSeen(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if scope == "" {
		clear(m.entries)
		return nil
	}
	delete(m.entries, scope)
	return nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}
