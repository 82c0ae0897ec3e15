package model

// OutcomeKind is the terminal state of one message in one run.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeApplied OutcomeKind = "applied"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// SkipReason explains a Skipped outcome.
type SkipReason string

// Skip reasons.
const (
	SkipAlreadyClassified SkipReason = "already_classified"
	SkipCanceled          SkipReason = "canceled"
)

// ErrorKind classifies why processing a message failed.
type ErrorKind string

// Error kinds.
const (
	ErrorKindTransientProvider ErrorKind = "transient_provider"
	ErrorKindRateLimited       ErrorKind = "rate_limited"
	ErrorKindFatalProvider     ErrorKind = "fatal_provider"
	ErrorKindSchemaViolation   ErrorKind = "schema_violation"
	ErrorKindSourceUnavailable ErrorKind = "source_unavailable"
	ErrorKindWriteFailure      ErrorKind = "write_failure"
	ErrorKindConfiguration     ErrorKind = "configuration"
)

// ClassifiedResult is a validated classification of one message.
type ClassifiedResult struct {
	Label      Label
	Reasoning  string
	Confidence float64
	Attempts   int
}

// Outcome is the terminal result of processing one message in one run.
type Outcome struct {
	Err        error
	Message    Message
	Label      Label // set for Applied, and for Failed write attempts
	Kind       OutcomeKind
	SkipReason SkipReason
	ErrorKind  ErrorKind
	Confidence float64
	Attempts   int
	DryRun     bool
}

// Applied records a successful classification. When dryRun is set the label
// was not written to the mailbox.
func Applied(msg Message, result ClassifiedResult, dryRun bool) Outcome {
	return Outcome{
		Kind:       OutcomeApplied,
		Message:    msg,
		Label:      result.Label,
		Confidence: result.Confidence,
		Attempts:   result.Attempts,
		DryRun:     dryRun,
	}
}

// Skipped records a message that was not classified.
func Skipped(msg Message, reason SkipReason) Outcome {
	return Outcome{
		Kind:       OutcomeSkipped,
		Message:    msg,
		SkipReason: reason,
	}
}

// Failed records a message whose processing ended in an error.
func Failed(msg Message, kind ErrorKind, err error, attempts int) Outcome {
	return Outcome{
		Kind:      OutcomeFailed,
		Message:   msg,
		ErrorKind: kind,
		Err:       err,
		Attempts:  attempts,
	}
}

// WriteFailed records a classification that succeeded but whose label could
// not be written. The label is kept so the failure is reportable.
func WriteFailed(msg Message, result ClassifiedResult, err error) Outcome {
	return Outcome{
		Kind:       OutcomeFailed,
		Message:    msg,
		Label:      result.Label,
		Confidence: result.Confidence,
		Attempts:   result.Attempts,
		ErrorKind:  ErrorKindWriteFailure,
		Err:        err,
	}
}

// Category returns the reporting bucket of the outcome, e.g.
// "applied/records", "dry_run/unsure", "skipped/already_classified" or
// "failed/rate_limited".
func (o Outcome) Category() string {
	switch o.Kind {
	case OutcomeApplied:
		if o.DryRun {
			return "dry_run/" + o.Label.Short()
		}
		return "applied/" + o.Label.Short()
	case OutcomeSkipped:
		return "skipped/" + string(o.SkipReason)
	case OutcomeFailed:
		return "failed/" + string(o.ErrorKind)
	default:
		return "unknown"
	}
}

// NeedsAttention reports whether a human should look at this outcome.
func (o Outcome) NeedsAttention() bool {
	return o.Kind == OutcomeApplied && o.Label == LabelRequiresAction
}

// Settled reports whether the message needs no further processing by a
// later run: its label is on the mailbox, or it already had one.
func (o Outcome) Settled() bool {
	switch o.Kind {
	case OutcomeApplied:
		return !o.DryRun
	case OutcomeSkipped:
		return o.SkipReason == SkipAlreadyClassified
	default:
		return false
	}
}
