package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Veraticus/mail-alfred/internal/common"
)

// parseClassification reads a provider answer. Structured JSON is preferred;
// a bare label, as the prompt asks for, is accepted too.
func parseClassification(content string) (RawClassification, error) {
	content = cleanMarkdownWrapper(content)
	if content == "" {
		return RawClassification{}, fmt.Errorf("%w: empty response", common.ErrSchemaViolation)
	}

	if strings.HasPrefix(content, "{") {
		var raw RawClassification
		if err := json.Unmarshal([]byte(content), &raw); err != nil {
			return RawClassification{}, fmt.Errorf("%w: failed to parse JSON response: %w", common.ErrSchemaViolation, err)
		}
		if strings.TrimSpace(raw.Label) == "" {
			return RawClassification{}, fmt.Errorf("%w: no label found in response", common.ErrSchemaViolation)
		}
		return raw, nil
	}

	label := strings.TrimSpace(strings.SplitN(content, "\n", 2)[0])
	label = strings.Trim(label, "\"'`.")
	if label == "" || strings.ContainsAny(label, " \t") {
		return RawClassification{}, fmt.Errorf("%w: unexpected response %q", common.ErrSchemaViolation, truncateText(content, 80))
	}
	return RawClassification{Label: label}, nil
}

// cleanMarkdownWrapper strips a ```json fence some models put around output.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[i+1:]
	} else {
		content = ""
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
