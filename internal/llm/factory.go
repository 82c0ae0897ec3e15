package llm

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/mail-alfred/internal/common"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// Provider defaults.
const (
	DefaultOpenAIModel       = "gpt-5-mini"
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultOpenAIServiceTier = "flex"
	DefaultAnthropicModel    = "claude-3-5-haiku-latest"
)

// NewClient creates a raw LLM client based on the provided configuration.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		return newOpenAIClient(cfg)
	case ProviderAnthropic:
		return newAnthropicClient(cfg)
	case ProviderMock:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", common.ErrInvalidConfig, cfg.Provider)
	}
}

// newHTTPClient has no overall timeout; each attempt is bounded by the
// classifier's context deadline.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
