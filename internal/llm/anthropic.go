package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Veraticus/mail-alfred/internal/common"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
	classifyTool            = "classify_email"
)

// anthropicClient implements the Client interface for the Anthropic messages
// API. The answer is forced through a single tool whose input schema carries
// the label enum.
type anthropicClient struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

// newAnthropicClient creates a new Anthropic API client.
func newAnthropicClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key is required", common.ErrMissingConfig)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 300
	}

	return &anthropicClient{
		apiKey:      cfg.APIKey,
		model:       model,
		baseURL:     baseURL,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		httpClient:  newHTTPClient(),
	}, nil
}

// Classify sends a classification request to Anthropic.
func (c *anthropicClient) Classify(ctx context.Context, req Request) (RawClassification, error) {
	requestBody := map[string]any{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"tools": []map[string]any{
			{
				"name":         classifyTool,
				"description":  "Record the classification of the email",
				"input_schema": classificationSchema(req.Labels),
			},
		},
		"tool_choice": map[string]string{"type": "tool", "name": classifyTool},
	}
	if req.System != "" {
		requestBody["system"] = req.System
	}
	if c.temperature > 0 {
		requestBody["temperature"] = c.temperature
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return RawClassification{}, fmt.Errorf("%w: failed to marshal request: %w", common.ErrFatalProvider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return RawClassification{}, fmt.Errorf("%w: failed to create request: %w", common.ErrFatalProvider, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return RawClassification{}, transportError("anthropic", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawClassification{}, transportError("anthropic", err)
	}

	if resp.StatusCode != http.StatusOK {
		return RawClassification{}, statusError("anthropic", resp.StatusCode, body)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return RawClassification{}, fmt.Errorf("%w: failed to parse response: %w", common.ErrTransientProvider, err)
	}

	for _, block := range response.Content {
		switch block.Type {
		case "tool_use":
			if block.Name != classifyTool {
				continue
			}
			return parseClassification(string(block.Input))
		case "text":
			if strings.TrimSpace(block.Text) != "" {
				return parseClassification(block.Text)
			}
		}
	}
	return RawClassification{}, fmt.Errorf("%w: no classification in response", common.ErrSchemaViolation)
}

// anthropicResponse represents the Anthropic API response structure.
type anthropicResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
