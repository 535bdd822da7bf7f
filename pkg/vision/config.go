package vision

import (
	"errors"
	"fmt"
	"net/url"
)

// Provider names accepted in Config.Provider.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// DefaultPrompt is sent when the caller does not supply one.
const DefaultPrompt = "Describe what is shown in this screenshot. " +
	"Transcribe any readable text and summarize the activity in one short paragraph."

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("vision: invalid config")

// Config selects and parameterizes the vision model.
type Config struct {
	// URL is the API base URL. Empty selects the provider's public endpoint.
	URL string `json:"url,omitempty" mapstructure:"url"`

	// APIKey authenticates against URL. Optional for local OpenAI-compatible servers.
	APIKey string `json:"api_key,omitempty" mapstructure:"api_key"`

	// Model names the vision model. Empty selects the provider default.
	Model string `json:"model,omitempty" mapstructure:"model"`

	// Prompt guides the description.
	Prompt string `json:"prompt,omitempty" mapstructure:"prompt"`

	// Provider is "openai" (any OpenAI-compatible API) or "gemini".
	Provider string `json:"provider,omitempty" mapstructure:"provider"`

	// MaxTokens bounds the response length. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

// WithDefaults returns a copy of c with empty fields filled in.
func (c Config) WithDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	return c
}

// Validate reports whether c can build an engine.
func (c Config) Validate() error {
	switch c.Provider {
	case "", ProviderOpenAI:
	case ProviderGemini:
		if c.APIKey == "" {
			return fmt.Errorf("%w: gemini requires an api_key", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}

	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("%w: url: %v", ErrInvalidConfig, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: url %q must be an absolute http(s) URL", ErrInvalidConfig, c.URL)
		}
	}

	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: max_tokens must not be negative", ErrInvalidConfig)
	}
	return nil
}
