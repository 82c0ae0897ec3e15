package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/credential"
	"github.com/Veraticus/mail-alfred/internal/llm"
)

// LoadLLMConfig builds the classifier configuration. Precedence:
// 1. Viper configuration (config file or ALFRED_ env vars)
// 2. Provider environment variables (OPENAI_API_KEY, OPENAI_BASE_URL, ...)
// 3. The keyring, for API keys
// 4. Defaults
//
// The per-call timeout comes from the run configuration so llm.timeout is
// read in one place only.
func LoadLLMConfig(secrets SecretStore, classifyTimeout time.Duration) (llm.Config, error) {
	cfg := llm.Config{
		Provider:      strings.ToLower(viper.GetString("llm.provider")),
		Model:         viper.GetString("llm.model"),
		BaseURL:       viper.GetString("llm.base_url"),
		ServiceTier:   viper.GetString("llm.service_tier"),
		MaxRetries:    viper.GetInt("llm.max_retries"),
		RetryDelay:    viper.GetDuration("llm.retry_delay"),
		MaxRetryDelay: viper.GetDuration("llm.max_retry_delay"),
		Timeout:       classifyTimeout,
		CacheTTL:      viper.GetDuration("llm.cache_ttl"),
		RateLimit:     viper.GetInt("llm.rate_limit"),
		Temperature:   viper.GetFloat64("llm.temperature"),
		MaxTokens:     viper.GetInt("llm.max_tokens"),
	}
	if cfg.Provider == "" {
		cfg.Provider = llm.ProviderOpenAI
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = common.DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = common.DefaultInitialDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = common.DefaultMaxDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = llm.DefaultTimeout
	}

	if path := viper.GetString("llm.prompt_file"); path != "" {
		data, err := os.ReadFile(ExpandPath(path)) // #nosec G304
		if err != nil {
			return cfg, fmt.Errorf("%w: failed to read prompt file: %w", common.ErrInvalidConfig, err)
		}
		cfg.SystemPrompt = string(data)
	}

	switch cfg.Provider {
	case llm.ProviderOpenAI:
		cfg.APIKey = lookupSecret("llm.api_key", []string{"OPENAI_API_KEY"}, secrets, credential.KeyOpenAI)
		if cfg.BaseURL == "" {
			cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
		}
		if cfg.Model == "" {
			cfg.Model = llm.DefaultOpenAIModel
		}
	case llm.ProviderAnthropic:
		cfg.APIKey = lookupSecret("llm.api_key", []string{"ANTHROPIC_API_KEY"}, secrets, credential.KeyAnthropic)
		if cfg.Model == "" {
			cfg.Model = llm.DefaultAnthropicModel
		}
	case llm.ProviderMock:
		return cfg, nil
	default:
		return cfg, fmt.Errorf("%w: unsupported LLM provider %q", common.ErrInvalidConfig, cfg.Provider)
	}

	if cfg.APIKey == "" {
		return cfg, common.NewUserError(
			fmt.Sprintf("no API key for provider %s; set it in the environment or run 'alfred auth set-secret'", cfg.Provider),
			common.ErrMissingConfig)
	}
	return cfg, nil
}
