package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"
)

// Progress is a bar whose total grows as messages are submitted, since a
// scan does not know up front how many messages it will hand out.
type Progress struct {
	bar   *progressbar.ProgressBar
	total int
}

// NewProgress creates a progress bar writing to w.
func NewProgress(w io.Writer, description string) *Progress {
	bar := progressbar.NewOptions(1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan][bold]%s[reset]", description)),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(w)
		}),
	)
	return &Progress{bar: bar}
}

// Grow raises the total by n.
func (p *Progress) Grow(n int) {
	p.total += n
	p.bar.ChangeMax(p.total)
}

// Done advances the bar by n.
func (p *Progress) Done(n int) {
	if err := p.bar.Add(n); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Clear erases the bar so a line can be printed above it.
func (p *Progress) Clear() {
	if err := p.bar.Clear(); err != nil {
		slog.Warn("Failed to clear progress bar", "error", err)
	}
}

// Finish completes the bar.
func (p *Progress) Finish() {
	if p.total == 0 {
		_ = p.bar.Clear()
		return
	}
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}
