// Package dedup decides which scanned messages still need classification.
//
// The authoritative signal is the mailbox itself: a message that already
// carries any label of the taxonomy namespace is never processed again.
//
// An optional seen-cache records, per mailbox scope, the highest message ID
// whose processing is settled, so a scan can stop as soon as it reaches that
// mark. The fast path assumes the source enumerates newest first in a stable
// order. A source that reorders messages between scans can cause an unseen
// message to sit below the mark and be skipped until the cache is cleared,
// which is why the fast path is off by default.
package dedup

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/model"
	"github.com/Veraticus/mail-alfred/internal/service"
)

// Gate filters messages for one mailbox across any number of scan cycles.
type Gate struct {
	cache    service.SeenCache
	logger   *slog.Logger
	taxonomy model.Taxonomy
}

// NewGate returns a gate for taxonomy. A nil cache disables the fast path.
func NewGate(taxonomy model.Taxonomy, cache service.SeenCache, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cache:    cache,
		logger:   logger.With("component", "dedup"),
		taxonomy: taxonomy,
	}
}

// ShouldProcess reports whether msg still needs a classification label.
func (g *Gate) ShouldProcess(msg model.Message) bool {
	return !g.taxonomy.Intersects(msg.Labels)
}

// Taxonomy returns the label set the gate filters on.
func (g *Gate) Taxonomy() model.Taxonomy {
	return g.taxonomy
}

// FastPath reports whether a seen-cache is configured.
func (g *Gate) FastPath() bool {
	return g.cache != nil
}

// Begin starts a scan cycle for scope and loads its current mark. Store
// errors only disable the fast path for this cycle.
func (g *Gate) Begin(ctx context.Context, scope string) *Cycle {
	c := &Cycle{
		gate:    g,
		scope:   scope,
		settled: make(map[string]bool),
	}
	if g.cache == nil {
		return c
	}

	entry, err := g.cache.GetSeen(ctx, scope)
	switch {
	case errors.Is(err, common.ErrNotFound):
	case err != nil:
		g.logger.Warn("seen-cache unavailable, scanning without it", "scope", scope, "error", err)
	default:
		c.mark = entry.HighestID
		g.logger.Debug("seen-cache mark loaded", "scope", scope, "mark", c.mark)
	}
	return c
}

// Cycle tracks what one scan observed so the seen mark can be advanced
// without ever passing a message that was left unlabeled.
type Cycle struct {
	gate        *Gate
	settled     map[string]bool
	scope       string
	mark        string
	scanned     []string
	mu          sync.Mutex
	reachedMark bool
	exhausted   bool
}

// Mark returns the mark loaded when the cycle began, empty if none.
func (c *Cycle) Mark() string {
	return c.mark
}

// Seen reports whether id is at or below the loaded mark. The caller stops
// scanning on the first true result.
func (c *Cycle) Seen(id string) bool {
	if c.mark == "" || model.CompareIDs(id, c.mark) > 0 {
		return false
	}
	c.mu.Lock()
	c.reachedMark = true
	c.mu.Unlock()
	return true
}

// Observe records that id was scanned, in scan order.
func (c *Cycle) Observe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanned = append(c.scanned, id)
}

// Exhausted records that the source ran out of messages.
func (c *Cycle) Exhausted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exhausted = true
}

// Record notes the terminal outcome of a scanned message. Only outcomes
// that leave a label on the mailbox let the mark move past the message.
func (c *Cycle) Record(o model.Outcome) {
	if !o.Settled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settled[o.Message.ID] = true
}

// Candidate returns the ID the mark may advance to: the newest message of
// the longest run of settled messages ending at the oldest one scanned.
// It is empty when the scan stopped before reaching the previous mark or
// the end of the mailbox, since older unscanned messages might be new.
func (c *Cycle) Candidate() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.reachedMark && !c.exhausted {
		return ""
	}

	var candidate string
	for i := len(c.scanned) - 1; i >= 0; i-- {
		id := c.scanned[i]
		if !c.settled[id] {
			break
		}
		if candidate == "" || model.CompareIDs(id, candidate) > 0 {
			candidate = id
		}
	}
	return candidate
}

// Commit advances the stored mark to Candidate. It must run after every
// submitted message has reached its outcome.
func (c *Cycle) Commit(ctx context.Context) {
	g := c.gate
	if g.cache == nil {
		return
	}
	candidate := c.Candidate()
	if candidate == "" || (c.mark != "" && model.CompareIDs(candidate, c.mark) <= 0) {
		return
	}
	if err := g.cache.AdvanceSeen(ctx, c.scope, candidate); err != nil {
		g.logger.Warn("failed to advance seen-cache mark", "scope", c.scope, "error", err)
		return
	}
	g.logger.Debug("seen-cache mark advanced", "scope", c.scope, "from", c.mark, "to", candidate)
}
