package model

import "sort"

// Summary tallies the outcomes of one run or one watch cycle.
type Summary struct {
	Applied map[Label]int
	DryRun  map[Label]int
	Skipped map[SkipReason]int
	Failed  map[ErrorKind]int
	Scanned int
}

// NewSummary returns an empty summary with initialized maps.
func NewSummary() Summary {
	return Summary{
		Applied: make(map[Label]int),
		DryRun:  make(map[Label]int),
		Skipped: make(map[SkipReason]int),
		Failed:  make(map[ErrorKind]int),
	}
}

// TotalClassified counts Applied outcomes, dry-run included.
func (s Summary) TotalClassified() int {
	return sum(s.Applied) + sum(s.DryRun)
}

// TotalSkipped counts Skipped outcomes.
func (s Summary) TotalSkipped() int {
	return sum(s.Skipped)
}

// TotalFailed counts Failed outcomes.
func (s Summary) TotalFailed() int {
	return sum(s.Failed)
}

// Total counts every recorded outcome.
func (s Summary) Total() int {
	return s.TotalClassified() + s.TotalSkipped() + s.TotalFailed()
}

// ClassifiedAs returns the number of messages classified as l, dry-run included.
func (s Summary) ClassifiedAs(l Label) int {
	return s.Applied[l] + s.DryRun[l]
}

// FailedKinds returns the error kinds present in the summary, sorted.
func (s Summary) FailedKinds() []ErrorKind {
	kinds := make([]ErrorKind, 0, len(s.Failed))
	for k := range s.Failed {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// LogAttrs returns the summary as slog key/value pairs.
func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"classified", s.TotalClassified(),
		"skipped", s.TotalSkipped(),
		"failed", s.TotalFailed(),
	}
	for l, n := range s.Applied {
		attrs = append(attrs, "applied_"+l.Short(), n)
	}
	for l, n := range s.DryRun {
		attrs = append(attrs, "dry_run_"+l.Short(), n)
	}
	for k, n := range s.Failed {
		attrs = append(attrs, "failed_"+string(k), n)
	}
	return attrs
}

func sum[K comparable](m map[K]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}
