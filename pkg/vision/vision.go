// Package vision describes frames with a vision-capable language model.
package vision

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teslashibe/go-framescribe/pkg/frame"
	"github.com/teslashibe/go-framescribe/pkg/inference"
)

// Engine turns a frame into a natural-language description.
type Engine struct {
	cfg      Config
	provider inference.Provider
	logger   *slog.Logger
}

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	provider   inference.Provider
	fallbacks  []inference.Provider
}

// Option configures New.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient sets the HTTP client used by the built provider.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithProvider uses p instead of building one from the config.
func WithProvider(p inference.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithFallback appends providers tried in order when the primary fails.
func WithFallback(p ...inference.Provider) Option {
	return func(o *options) { o.fallbacks = append(o.fallbacks, p...) }
}

// New validates cfg and builds an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger.With("component", "vision", "provider", cfg.Provider)

	p := o.provider
	if p == nil {
		var err error
		if p, err = NewProvider(cfg, logger, o.httpClient); err != nil {
			return nil, err
		}
	}

	if len(o.fallbacks) > 0 {
		chain, err := inference.NewChain(logger, append([]inference.Provider{p}, o.fallbacks...)...)
		if err != nil {
			return nil, err
		}
		p = chain
	}

	return &Engine{cfg: cfg, provider: p, logger: logger}, nil
}

// NewProvider builds the inference provider cfg names.
func NewProvider(cfg Config, logger *slog.Logger, hc *http.Client) (inference.Provider, error) {
	opts := []inference.Option{inference.WithLogger(logger)}
	if cfg.URL != "" {
		opts = append(opts, inference.WithBaseURL(cfg.URL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, inference.WithAPIKey(cfg.APIKey))
	}
	if cfg.Model != "" {
		opts = append(opts, inference.WithVisionModel(cfg.Model))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, inference.WithMaxTokens(cfg.MaxTokens))
	}
	if hc != nil {
		opts = append(opts, inference.WithHTTPClient(hc))
	}

	switch cfg.Provider {
	case ProviderGemini:
		return inference.NewGemini(opts...)
	case "", ProviderOpenAI:
		return inference.NewOpenAI(opts...)
	}
	return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Infer describes one frame.
func (e *Engine) Infer(ctx context.Context, raw *frame.Raw) (frame.Output, error) {
	resp, err := e.provider.Vision(ctx, &inference.VisionRequest{
		Image:     raw.Payload,
		MimeType:  raw.MimeType,
		Prompt:    e.cfg.Prompt,
		Model:     e.cfg.Model,
		MaxTokens: e.cfg.MaxTokens,
	})
	if err != nil {
		return frame.Output{}, err
	}

	e.logger.Debug("frame described",
		"frame", raw.Number,
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"latency_ms", resp.LatencyMs,
	)

	return frame.Output{Content: strings.TrimSpace(resp.Content)}, nil
}

// Health checks the provider.
func (e *Engine) Health(ctx context.Context) error {
	return e.provider.Health(ctx)
}

// Close releases the provider.
func (e *Engine) Close() error {
	return e.provider.Close()
}
