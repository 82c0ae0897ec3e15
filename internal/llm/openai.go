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

// openAIClient implements the Client interface for the OpenAI chat
// completions API and compatible servers.
type openAIClient struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	serviceTier string
	temperature float64
	maxTokens   int
}

// newOpenAIClient creates a new OpenAI API client.
func newOpenAIClient(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", common.ErrMissingConfig)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	return &openAIClient{
		apiKey:      cfg.APIKey,
		model:       model,
		baseURL:     baseURL,
		serviceTier: cfg.ServiceTier,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  newHTTPClient(),
	}, nil
}

// Classify sends a structured-output classification request to OpenAI.
func (c *openAIClient) Classify(ctx context.Context, req Request) (RawClassification, error) {
	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	requestBody := map[string]any{
		"model":    c.model,
		"messages": messages,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "classified_email",
				"strict": true,
				"schema": classificationSchema(req.Labels),
			},
		},
	}
	// reasoning models reject sampling parameters, so only send what was set
	if c.temperature > 0 {
		requestBody["temperature"] = c.temperature
	}
	if c.maxTokens > 0 {
		requestBody["max_completion_tokens"] = c.maxTokens
	}
	if c.serviceTier != "" {
		requestBody["service_tier"] = c.serviceTier
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return RawClassification{}, fmt.Errorf("%w: failed to marshal request: %w", common.ErrFatalProvider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return RawClassification{}, fmt.Errorf("%w: failed to create request: %w", common.ErrFatalProvider, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return RawClassification{}, transportError("OpenAI", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawClassification{}, transportError("OpenAI", err)
	}

	if resp.StatusCode != http.StatusOK {
		return RawClassification{}, statusError("OpenAI", resp.StatusCode, body)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return RawClassification{}, fmt.Errorf("%w: failed to parse response: %w", common.ErrTransientProvider, err)
	}

	if len(response.Choices) == 0 {
		return RawClassification{}, fmt.Errorf("%w: no completion choices returned", common.ErrTransientProvider)
	}

	msg := response.Choices[0].Message
	if msg.Refusal != "" {
		return RawClassification{}, fmt.Errorf("%w: model refused: %s", common.ErrSchemaViolation, msg.Refusal)
	}
	return parseClassification(msg.Content)
}

// classificationSchema is the strict JSON schema of a classification.
func classificationSchema(labels []string) map[string]any {
	label := map[string]any{
		"type":        "string",
		"description": "The single classification label for the email",
	}
	if len(labels) > 0 {
		label["enum"] = labels
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"label": label,
			"reasoning": map[string]any{
				"type":        "string",
				"description": "One sentence explaining the choice",
			},
			"confidence": map[string]any{
				"type":        "number",
				"description": "Confidence between 0 and 1",
			},
		},
		"required":             []string{"label", "reasoning", "confidence"},
		"additionalProperties": false,
	}
}

// openAIResponse represents the OpenAI API response structure.
type openAIResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
		Index        int    `json:"index"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Created int64 `json:"created"`
}
