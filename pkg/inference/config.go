package inference

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-framescribe/internal/httpc"
)

// Config is shared by every provider. Zero request fields in a
// VisionRequest fall back to VisionModel, MaxTokens and Temperature.
type Config struct {
	BaseURL string
	APIKey  string // empty for local OpenAI-compatible servers

	VisionModel string
	MaxTokens   int
	Temperature float64

	Timeout    time.Duration
	HTTPClient *http.Client // when set, Timeout is ignored

	// 429 and 5xx responses are retried MaxRetries times, waiting
	// RetryDelay*attempt between tries.
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option mutates a Config before a provider is built.
type Option func(*Config)

// DefaultConfig targets the public OpenAI API.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		VisionModel: "gpt-4o",
		MaxTokens:   500,
		Timeout:     httpc.DefaultTimeout,
		MaxRetries:  3,
		RetryDelay:  100 * time.Millisecond,
		Logger:      slog.Default(),
	}
}

// WithBaseURL points the provider at another endpoint, such as a local
// Ollama server at http://localhost:11434/v1.
func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }

func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }

func WithVisionModel(model string) Option { return func(c *Config) { c.VisionModel = model } }

func WithMaxTokens(n int) Option { return func(c *Config) { c.MaxTokens = n } }

func WithTemperature(t float64) Option { return func(c *Config) { c.Temperature = t } }

func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

func WithHTTPClient(hc *http.Client) Option { return func(c *Config) { c.HTTPClient = hc } }

func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithRetry sets the retry budget for rate limits and server errors.
func WithRetry(n int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries, c.RetryDelay = n, delay
	}
}

// Apply runs opts in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func (c *Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return httpc.NewClient(c.Timeout)
}

func (c *Config) resolve(req *VisionRequest) (model string, maxTokens int, temperature float64) {
	model, maxTokens, temperature = req.Model, req.MaxTokens, req.Temperature
	if model == "" {
		model = c.VisionModel
	}
	if maxTokens == 0 {
		maxTokens = c.MaxTokens
	}
	if temperature == 0 {
		temperature = c.Temperature
	}
	return model, maxTokens, temperature
}
