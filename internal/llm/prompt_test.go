package llm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/mail-alfred/internal/model"
)

func TestBuildPrompt(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

	t.Run("full message", func(t *testing.T) {
		msg := model.Message{
			ID:         "1",
			Sender:     "Billing <billing@example.com>",
			Recipients: []string{"me@example.com", "you@example.com"},
			CC:         []string{"team@example.com"},
			Date:       time.Date(2025, 5, 30, 17, 4, 5, 0, time.UTC),
			Subject:    "Invoice #42",
			Body:       "Amount due: $10",
			Snippet:    "ignored when body is present",
		}

		prompt := BuildPrompt(msg, model.DefaultTaxonomy(), now)

		assert.True(t, strings.HasPrefix(prompt, "---\nEMAIL TO CLASSIFY:\n---\n"))
		assert.Contains(t, prompt, "From: Billing <billing@example.com>\n")
		assert.Contains(t, prompt, "To: me@example.com, you@example.com\n")
		assert.Contains(t, prompt, "CC: team@example.com\n")
		assert.Contains(t, prompt, "Date: 2025-05-30 17:04:05\n")
		assert.Contains(t, prompt, "Subject: Invoice #42\n")
		assert.Contains(t, prompt, "Body:\nAmount due: $10\n")
		assert.NotContains(t, prompt, "ignored when body is present")
		assert.Contains(t, prompt, "Current datetime: 2025-06-01 08:30:00")
		for _, name := range model.DefaultTaxonomy().Names() {
			assert.Contains(t, prompt, "- "+name+"\n")
		}
		assert.Contains(t, prompt, `Respond with ONLY the label (e.g., "classifications/requires_action").`)
	})

	t.Run("missing fields", func(t *testing.T) {
		prompt := BuildPrompt(model.Message{ID: "2", Snippet: "preview"}, model.DefaultTaxonomy(), now)
		assert.Contains(t, prompt, "To: (none)\n")
		assert.Contains(t, prompt, "CC: (none)\n")
		assert.Contains(t, prompt, "Date: (unknown)\n")
		assert.Contains(t, prompt, "Body:\npreview\n")
	})

	t.Run("long body is truncated", func(t *testing.T) {
		body := strings.Repeat("é", MaxBodyChars+10)
		prompt := BuildPrompt(model.Message{ID: "3", Body: body}, model.DefaultTaxonomy(), now)
		assert.Contains(t, prompt, strings.Repeat("é", MaxBodyChars)+"\n\n[truncated]")
		assert.NotContains(t, prompt, strings.Repeat("é", MaxBodyChars+1))
	})
}

func TestDefaultSystemPrompt(t *testing.T) {
	prompt := DefaultSystemPrompt()
	assert.NotEmpty(t, prompt)
	assert.Contains(t, prompt, "requires_action")
}
