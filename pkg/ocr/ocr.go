// Package ocr extracts text from frames, either with a local tesseract
// binary or with Google Cloud Vision.
package ocr

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/teslashibe/go-framescribe/pkg/frame"
)

// ErrEngineUnavailable is returned when the selected engine cannot be reached
// or started, e.g. tesseract is not installed.
var ErrEngineUnavailable = errors.New("ocr: engine unavailable")

// Engine recognizes text in a single frame.
type Engine interface {
	Infer(ctx context.Context, raw *frame.Raw) (frame.Output, error)
	Close() error
}

type options struct {
	logger        *slog.Logger
	httpClient    *http.Client
	tesseractPath string
}

// Option configures New.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient sets the base HTTP client for the google model.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithTesseractPath sets the tesseract binary. Defaults to "tesseract" on PATH.
func WithTesseractPath(path string) Option {
	return func(o *options) { o.tesseractPath = path }
}

// New validates cfg and builds the engine it selects.
func New(ctx context.Context, cfg Config, opts ...Option) (Engine, error) {
	o := options{logger: slog.Default(), tesseractPath: "tesseract"}
	for _, opt := range opts {
		opt(&o)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger.With("component", "ocr", "model", cfg.Model)

	if cfg.Model == ModelGoogle {
		return NewCloudVision(ctx, cfg, logger, o.httpClient)
	}
	return NewTesseract(cfg, o.tesseractPath, logger)
}
