package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/mail-alfred/internal/model"
)

const (
	maxSubjectWidth = 60
	maxSenderWidth  = 30
)

// Reporter writes per-message outcome lines and run summaries. It is safe
// for concurrent use by the orchestrator's outcome handler.
type Reporter struct {
	w        io.Writer
	progress *Progress
	taxonomy model.Taxonomy
	verbose  bool
	dryRun   bool
	mu       sync.Mutex
}

// NewReporter creates a reporter writing to w. Without verbose only
// messages needing attention and failures are printed.
func NewReporter(w io.Writer, taxonomy model.Taxonomy, verbose, dryRun bool) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	return &Reporter{
		w:        w,
		taxonomy: taxonomy,
		verbose:  verbose,
		dryRun:   dryRun,
	}
}

// AttachProgress shows p under the outcome lines. Pass nil to detach.
func (r *Reporter) AttachProgress(p *Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = p
}

// Scanned grows the progress bar by one submitted message.
func (r *Reporter) Scanned(model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress != nil {
		r.progress.Grow(1)
	}
}

// Outcome reports one finished message.
func (r *Reporter) Outcome(o model.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shouldShow(o) {
		if r.progress != nil {
			r.progress.Clear()
		}
		r.println(FormatOutcome(o))
	}
	if r.progress != nil {
		r.progress.Done(1)
	}
}

func (r *Reporter) shouldShow(o model.Outcome) bool {
	if r.verbose {
		return true
	}
	return o.NeedsAttention() || o.Kind == model.OutcomeFailed
}

// Summary prints the end-of-run table.
func (r *Reporter) Summary(summary model.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.progress != nil {
		r.progress.Finish()
		r.progress = nil
	}

	title := ChartIcon + " Classification Summary"
	if r.dryRun {
		title += "  " + DryRunStyle.Render("DRY RUN")
	}
	r.println("\n" + RenderBox(title, r.summaryTable(summary)))
}

// CycleSummary prints a one-line watch cycle report.
func (r *Reporter) CycleSummary(cycle int, summary model.Summary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stamp := SubtleStyle.Render(time.Now().Format("15:04:05"))
	if err != nil {
		r.println(fmt.Sprintf("%s %s", stamp, FormatError(fmt.Sprintf("Cycle %d failed: %v", cycle, err))))
		return
	}

	line := fmt.Sprintf("Cycle %d: %d scanned, %d classified, %d skipped, %d failed",
		cycle, summary.Scanned, summary.TotalClassified(), summary.TotalSkipped(), summary.TotalFailed())
	if n := summary.ClassifiedAs(model.LabelRequiresAction); n > 0 {
		line += ", " + LabelStyle(model.LabelRequiresAction).Render(fmt.Sprintf("%d need action", n))
	}
	r.println(fmt.Sprintf("%s %s", stamp, line))
}

// WatchBanner announces watch mode.
func (r *Reporter) WatchBanner(scope string, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.println(FormatTitle("Watching " + scope))
	r.println(FormatInfo(fmt.Sprintf("Checking every %s. Press Ctrl+C to stop.", interval)))
	if r.dryRun {
		r.println(DryRunStyle.Render("DRY RUN") + " " + SubtleStyle.Render("labels are not written"))
	}
}

// Countdown waits for d while showing the time left until the next cycle.
// It matches the orchestrator's waiter signature.
func (r *Reporter) Countdown(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	timer := time.NewTimer(d)
	defer timer.Stop()

	r.tick(time.Until(deadline))
	for {
		select {
		case <-ctx.Done():
			r.clearLine()
			return ctx.Err()
		case <-timer.C:
			r.clearLine()
			return nil
		case <-ticker.C:
			r.tick(time.Until(deadline))
		}
	}
}

func (r *Reporter) tick(left time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	secs := int(left.Round(time.Second).Seconds())
	r.print(SubtleStyle.Render(fmt.Sprintf("\r%s Next check in %ds ", ClockIcon, max(secs, 0))))
}

func (r *Reporter) clearLine() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.print("\r\033[K")
}

func (r *Reporter) summaryTable(summary model.Summary) string {
	var rows [][2]string
	rows = append(rows,
		[2]string{"Scanned", fmt.Sprint(summary.Scanned)},
		[2]string{"Classified", fmt.Sprint(summary.TotalClassified())},
	)

	for _, label := range r.labelsFor(summary) {
		rows = append(rows, [2]string{"  " + FormatLabel(label), fmt.Sprint(summary.ClassifiedAs(label))})
	}

	rows = append(rows, [2]string{"Skipped", fmt.Sprint(summary.TotalSkipped())})
	reasons := make([]string, 0, len(summary.Skipped))
	for reason := range summary.Skipped {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		rows = append(rows, [2]string{"  " + SubtleStyle.Render(reason), fmt.Sprint(summary.Skipped[model.SkipReason(reason)])})
	}

	failed := fmt.Sprint(summary.TotalFailed())
	if summary.TotalFailed() > 0 {
		failed = ErrorStyle.Render(failed)
	}
	rows = append(rows, [2]string{"Failed", failed})
	for _, kind := range summary.FailedKinds() {
		rows = append(rows, [2]string{"  " + ErrorStyle.Render(string(kind)), fmt.Sprint(summary.Failed[kind])})
	}

	width := 0
	for _, row := range rows {
		width = max(width, lipgloss.Width(row[0]))
	}
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		name := TableCellStyle.Width(width + 2).Render(row[0])
		lines = append(lines, name+BoldStyle.Render(row[1]))
	}
	return strings.Join(lines, "\n")
}

// labelsFor lists taxonomy labels in order, followed by any other label
// present in the summary.
func (r *Reporter) labelsFor(summary model.Summary) []model.Label {
	labels := r.taxonomy.Labels()
	known := make(map[model.Label]bool, len(labels))
	for _, l := range labels {
		known[l] = true
	}
	var extra []model.Label
	for _, counts := range []map[model.Label]int{summary.Applied, summary.DryRun} {
		for l := range counts {
			if !known[l] {
				known[l] = true
				extra = append(extra, l)
			}
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(labels, extra...)
}

func (r *Reporter) println(s string) {
	if _, err := fmt.Fprintln(r.w, s); err != nil {
		slog.Warn("Failed to write report output", "error", err)
	}
}

func (r *Reporter) print(s string) {
	if _, err := fmt.Fprint(r.w, s); err != nil {
		slog.Warn("Failed to write report output", "error", err)
	}
}

// FormatOutcome renders one outcome as a single line.
func FormatOutcome(o model.Outcome) string {
	msg := o.Message
	subject := truncate(strings.TrimSpace(msg.Subject), maxSubjectWidth)
	if subject == "" {
		subject = "(no subject)"
	}
	sender := truncate(msg.Sender, maxSenderWidth)

	var status string
	switch o.Kind {
	case model.OutcomeApplied:
		status = SuccessStyle.Render(SuccessIcon) + " " + FormatLabel(o.Label)
		if o.DryRun {
			status += " " + SubtleStyle.Render("(dry run)")
		}
	case model.OutcomeSkipped:
		status = SubtleStyle.Render("- skipped: " + string(o.SkipReason))
	case model.OutcomeFailed:
		status = ErrorStyle.Render(ErrorIcon + " " + string(o.ErrorKind))
		if o.Label != "" {
			status += " " + FormatLabel(o.Label)
		}
	}

	line := fmt.Sprintf("%s  %s  %s", status, BoldStyle.Render(subject), SubtleStyle.Render(sender))
	if o.Kind == model.OutcomeFailed && o.Err != nil {
		line += "\n    " + SubtleStyle.Render(truncate(o.Err.Error(), 120))
	}
	return line
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}
