package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/mail-alfred/internal/model"
	"github.com/Veraticus/mail-alfred/internal/storage"
)

func msg(id string, labels ...string) model.Message {
	m := model.Message{ID: id, Labels: make(map[string]bool)}
	for _, l := range labels {
		m.Labels[l] = true
	}
	return m
}

func applied(id string) model.Outcome {
	return model.Applied(msg(id), model.ClassifiedResult{Label: model.LabelRecords}, false)
}

func TestGate_ShouldProcess(t *testing.T) {
	gate := NewGate(model.DefaultTaxonomy(), nil, nil)

	tests := []struct {
		name string
		msg  model.Message
		want bool
	}{
		{name: "no labels", msg: msg("1"), want: true},
		{name: "system labels only", msg: msg("2", "INBOX", "UNREAD"), want: true},
		{name: "classified", msg: msg("3", "INBOX", string(model.LabelRecords)), want: false},
		{name: "any namespace label", msg: msg("4", "classifications/unsure"), want: false},
		{name: "label present but false", msg: model.Message{ID: "5", Labels: map[string]bool{string(model.LabelRecords): false}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.ShouldProcess(tt.msg))
		})
	}
}

func TestCycle_WithoutCache(t *testing.T) {
	gate := NewGate(model.DefaultTaxonomy(), nil, nil)
	assert.False(t, gate.FastPath())

	cycle := gate.Begin(context.Background(), "scope")
	assert.False(t, cycle.Seen("1"))
	cycle.Observe("1")
	cycle.Record(applied("1"))
	cycle.Exhausted()
	cycle.Commit(context.Background())
	assert.Empty(t, cycle.Mark())
}

func TestCycle_Candidate(t *testing.T) {
	tests := []struct {
		outcomes    map[string]model.Outcome
		name        string
		want        string
		scanned     []string
		exhausted   bool
		reachedMark bool
	}{
		{
			name:      "all settled",
			scanned:   []string{"9", "8", "7"},
			outcomes:  map[string]model.Outcome{"9": applied("9"), "8": applied("8"), "7": model.Skipped(msg("7"), model.SkipAlreadyClassified)},
			exhausted: true,
			want:      "9",
		},
		{
			name:      "newest failed",
			scanned:   []string{"9", "8", "7"},
			outcomes:  map[string]model.Outcome{"9": model.Failed(msg("9"), model.ErrorKindRateLimited, errors.New("429"), 5), "8": applied("8"), "7": applied("7")},
			exhausted: true,
			want:      "8",
		},
		{
			name:      "oldest dry run",
			scanned:   []string{"9", "8"},
			outcomes:  map[string]model.Outcome{"9": applied("9"), "8": model.Applied(msg("8"), model.ClassifiedResult{Label: model.LabelUnsure}, true)},
			exhausted: true,
			want:      "",
		},
		{
			name:     "scan stopped early",
			scanned:  []string{"9", "8"},
			outcomes: map[string]model.Outcome{"9": applied("9"), "8": applied("8")},
			want:     "",
		},
		{
			name:        "reached previous mark",
			scanned:     []string{"12", "11"},
			outcomes:    map[string]model.Outcome{"12": applied("12"), "11": applied("11")},
			reachedMark: true,
			want:        "12",
		},
		{
			name:      "unsubmitted in the middle",
			scanned:   []string{"9", "8", "7"},
			outcomes:  map[string]model.Outcome{"9": applied("9"), "7": applied("7")},
			exhausted: true,
			want:      "7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cycle := &Cycle{gate: NewGate(model.DefaultTaxonomy(), nil, nil), settled: make(map[string]bool)}
			for _, id := range tt.scanned {
				cycle.Observe(id)
			}
			for _, o := range tt.outcomes {
				cycle.Record(o)
			}
			if tt.exhausted {
				cycle.Exhausted()
			}
			cycle.reachedMark = tt.reachedMark
			assert.Equal(t, tt.want, cycle.Candidate())
		})
	}
}

func TestCycle_CommitAndSeen(t *testing.T) {
	ctx := context.Background()
	cache := storage.NewMemoryStorage()
	gate := NewGate(model.DefaultTaxonomy(), cache, nil)
	require.True(t, gate.FastPath())

	first := gate.Begin(ctx, "imap:inbox")
	assert.Empty(t, first.Mark())
	for _, id := range []string{"103", "102", "101"} {
		assert.False(t, first.Seen(id))
		first.Observe(id)
		first.Record(applied(id))
	}
	first.Exhausted()
	first.Commit(ctx)

	entry, err := cache.GetSeen(ctx, "imap:inbox")
	require.NoError(t, err)
	assert.Equal(t, "103", entry.HighestID)

	second := gate.Begin(ctx, "imap:inbox")
	assert.Equal(t, "103", second.Mark())
	assert.False(t, second.Seen("104"))
	second.Observe("104")
	assert.True(t, second.Seen("103"))
	assert.True(t, second.Seen("99"), "shorter IDs are older")

	// 104 failed: the mark must stay put so it is retried
	second.Record(model.Failed(msg("104"), model.ErrorKindFatalProvider, errors.New("401"), 1))
	second.Commit(ctx)
	entry, err = cache.GetSeen(ctx, "imap:inbox")
	require.NoError(t, err)
	assert.Equal(t, "103", entry.HighestID)
}

type failingCache struct {
	*storage.MemoryStorage
}

func (failingCache) GetSeen(context.Context, string) (*model.SeenCacheEntry, error) {
	return nil, errors.New("disk gone")
}

func (failingCache) AdvanceSeen(context.Context, string, string) error {
	return errors.New("disk gone")
}

func TestCycle_StoreErrorsIgnored(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(model.DefaultTaxonomy(), failingCache{storage.NewMemoryStorage()}, nil)

	cycle := gate.Begin(ctx, "scope")
	assert.Empty(t, cycle.Mark())
	assert.False(t, cycle.Seen("1"))
	cycle.Observe("1")
	cycle.Record(applied("1"))
	cycle.Exhausted()
	assert.NotPanics(t, func() { cycle.Commit(ctx) })
}
