package llm

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/mail-alfred/internal/model"
)

// MaxBodyChars bounds the body excerpt sent to the model.
const MaxBodyChars = 4000

const promptTimeLayout = "2006-01-02 15:04:05"

//go:embed prompts/classification.md
var defaultSystemPrompt string

// DefaultSystemPrompt returns the built-in classification instructions.
func DefaultSystemPrompt() string {
	return defaultSystemPrompt
}

// BuildPrompt renders the email and the allowed labels for one request.
func BuildPrompt(msg model.Message, taxonomy model.Taxonomy, now time.Time) string {
	var sb strings.Builder

	sb.WriteString("---\nEMAIL TO CLASSIFY:\n---\n")
	fmt.Fprintf(&sb, "From: %s\n", msg.Sender)
	fmt.Fprintf(&sb, "To: %s\n", joinOrNone(msg.Recipients))
	fmt.Fprintf(&sb, "CC: %s\n", joinOrNone(msg.CC))
	if msg.Date.IsZero() {
		sb.WriteString("Date: (unknown)\n")
	} else {
		fmt.Fprintf(&sb, "Date: %s\n", msg.Date.Format(promptTimeLayout))
	}
	fmt.Fprintf(&sb, "Subject: %s\n\n", msg.Subject)
	fmt.Fprintf(&sb, "Body:\n%s\n---\n\n", truncateBody(msg.Excerpt()))

	fmt.Fprintf(&sb, "Current datetime: %s\n\n", now.Format(promptTimeLayout))
	sb.WriteString("Please classify this email into exactly one of the following labels:\n")
	for _, name := range taxonomy.Names() {
		fmt.Fprintf(&sb, "- %s\n", name)
	}
	fmt.Fprintf(&sb, "\nRespond with ONLY the label (e.g., %q).\n", string(model.LabelRequiresAction))

	return sb.String()
}

func joinOrNone(list []string) string {
	if len(list) == 0 {
		return "(none)"
	}
	return strings.Join(list, ", ")
}

func truncateBody(body string) string {
	r := []rune(body)
	if len(r) <= MaxBodyChars {
		return body
	}
	return string(r[:MaxBodyChars]) + "\n\n[truncated]"
}
