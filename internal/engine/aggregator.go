package engine

import (
	"sync"

	"github.com/Veraticus/mail-alfred/internal/model"
)

// Aggregator tallies outcomes of one run. It is safe for concurrent use and
// accepts outcomes in any order.
type Aggregator struct {
	summary model.Summary
	mu      sync.Mutex
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{summary: model.NewSummary()}
}

// Record adds one terminal outcome.
func (a *Aggregator) Record(o model.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch o.Kind {
	case model.OutcomeApplied:
		if o.DryRun {
			a.summary.DryRun[o.Label]++
		} else {
			a.summary.Applied[o.Label]++
		}
	case model.OutcomeSkipped:
		a.summary.Skipped[o.SkipReason]++
	case model.OutcomeFailed:
		a.summary.Failed[o.ErrorKind]++
	}
}

// AddScanned counts n scanned messages.
func (a *Aggregator) AddScanned(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summary.Scanned += n
}

// Summary returns a copy of the current tallies.
func (a *Aggregator) Summary() model.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := model.NewSummary()
	s.Scanned = a.summary.Scanned
	for k, v := range a.summary.Applied {
		s.Applied[k] = v
	}
	for k, v := range a.summary.DryRun {
		s.DryRun[k] = v
	}
	for k, v := range a.summary.Skipped {
		s.Skipped[k] = v
	}
	for k, v := range a.summary.Failed {
		s.Failed[k] = v
	}
	return s
}

// Counts returns the tallies keyed by outcome category, e.g.
// "applied/records", plus "scanned".
func (a *Aggregator) Counts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := map[string]int{"scanned": a.summary.Scanned}
	for l, n := range a.summary.Applied {
		counts["applied/"+l.Short()] += n
	}
	for l, n := range a.summary.DryRun {
		counts["dry_run/"+l.Short()] += n
	}
	for r, n := range a.summary.Skipped {
		counts["skipped/"+string(r)] += n
	}
	for k, n := range a.summary.Failed {
		counts["failed/"+string(k)] += n
	}
	return counts
}
