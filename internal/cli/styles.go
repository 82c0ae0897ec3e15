// Package cli renders run progress, outcomes and summaries for the terminal.
package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/mail-alfred/internal/model"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#7AA2F7")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4") // Teal
	// WarningColor indicates warnings or caution messages.
	WarningColor = lipgloss.Color("#FFE66D") // Yellow
	// ErrorColor indicates errors or failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B") // Red
	// InfoColor indicates informational messages.
	InfoColor = lipgloss.Color("#95E1D3") // Light teal
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666") // Gray

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().Foreground(ErrorColor)

	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().Foreground(InfoColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().Foreground(SubtleColor)

	// BoldStyle makes text bold.
	BoldStyle = lipgloss.NewStyle().Bold(true)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(0, 2)

	// TableCellStyle pads summary table cells.
	TableCellStyle = lipgloss.NewStyle().PaddingRight(2)

	// DryRunStyle marks output of runs that write nothing.
	DryRunStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#1A1B26")).
			Background(WarningColor).
			Padding(0, 1)
)

// labelColors gives each reference label its own color.
var labelColors = map[model.Label]lipgloss.Color{
	model.LabelRequiresAction: lipgloss.Color("#FF6B6B"),
	model.LabelRecords:        lipgloss.Color("#4ECDC4"),
	model.LabelReadLater:      lipgloss.Color("#7AA2F7"),
	model.LabelBulkContent:    lipgloss.Color("#888888"),
	model.LabelUnsure:         lipgloss.Color("#FFE66D"),
}

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	MailIcon    = "📬"
	ChartIcon   = "📊"
	ClockIcon   = "⏱"
)

// LabelStyle returns the style for label; labels outside the reference set
// use the primary color.
func LabelStyle(label model.Label) lipgloss.Style {
	color, ok := labelColors[label]
	if !ok {
		color = PrimaryColor
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color)
}

// FormatLabel renders the short label name in its color.
func FormatLabel(label model.Label) string {
	return LabelStyle(label).Render(label.Short())
}

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the mail icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(MailIcon + " " + title)
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	return BoxStyle.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		TitleStyle.Render(title),
		content,
	))
}
