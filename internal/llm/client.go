package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Veraticus/mail-alfred/internal/common"
)

// Client defines the interface for LLM providers.
type Client interface {
	Classify(ctx context.Context, req Request) (RawClassification, error)
}

// Request is one rendered classification prompt. Labels is the closed set
// the answer must come from; providers that support structured output
// enforce it as an enum.
type Request struct {
	System string
	Prompt string
	Labels []string
}

// RawClassification is the provider's answer before validation.
type RawClassification struct {
	Confidence *float64 `json:"confidence,omitempty"`
	Label      string   `json:"label"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// ClientFunc adapts an ordinary function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (RawClassification, error)

// Classify calls f(ctx, req).
func (f ClientFunc) Classify(ctx context.Context, req Request) (RawClassification, error) {
	return f(ctx, req)
}

const maxErrorBody = 512

// statusError maps a non-200 provider response onto the error taxonomy.
func statusError(provider string, status int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	detail := fmt.Sprintf("%s API error (status %d): %s", provider, status, string(body))

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", common.ErrRateLimit, detail)
	case status == http.StatusRequestTimeout, status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", common.ErrTransientProvider, detail)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: authentication failed: %s", common.ErrFatalProvider, detail)
	default:
		return fmt.Errorf("%w: malformed request: %s", common.ErrFatalProvider, detail)
	}
}

// transportError wraps a failed round trip. Cancellation passes through
// untouched so it is never retried.
func transportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s request failed: %w", common.ErrTransientProvider, provider, err)
}
