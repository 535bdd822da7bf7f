package ocr

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Model names accepted in Config.Model.
const (
	ModelDefault   = "default"
	ModelTesseract = "tesseract"
	ModelGoogle    = "google"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("ocr: invalid config")

// Config selects and parameterizes the OCR engine.
type Config struct {
	// Model is "default" (tesseract), "tesseract" or "google".
	Model string `json:"ocr_model,omitempty" mapstructure:"ocr_model"`

	// BoundingBoxes requests per-word regions alongside the text.
	BoundingBoxes bool `json:"bounding_boxes,omitempty" mapstructure:"bounding_boxes"`

	// DPI hints the source resolution. Zero lets the engine guess.
	DPI int `json:"dpi,omitempty" mapstructure:"dpi"`

	// PSM is the tesseract page segmentation mode (0-13).
	PSM *int `json:"psm,omitempty" mapstructure:"psm"`

	// OEM is the tesseract engine mode (0-3).
	OEM *int `json:"oem,omitempty" mapstructure:"oem"`

	// Languages lists recognition languages, e.g. ["eng", "deu"].
	Languages []string `json:"languages,omitempty" mapstructure:"languages"`

	// APIKey authenticates the google model. Application default
	// credentials are used when empty.
	APIKey string `json:"api_key,omitempty" mapstructure:"api_key"`

	// Endpoint overrides the google API endpoint.
	Endpoint string `json:"endpoint,omitempty" mapstructure:"endpoint"`
}

// DefaultConfig is used when a run asks for OCR without configuring it.
func DefaultConfig() Config {
	return Config{Model: ModelDefault, BoundingBoxes: true}
}

// WithDefaults returns a copy of c with empty fields filled in.
func (c Config) WithDefaults() Config {
	if c.Model == "" {
		c.Model = ModelDefault
	}
	if len(c.Languages) == 0 && c.Model != ModelGoogle {
		c.Languages = []string{"eng"}
	}
	return c
}

// Validate reports whether c can build an engine.
func (c Config) Validate() error {
	switch c.Model {
	case "", ModelDefault, ModelTesseract, ModelGoogle:
	default:
		return fmt.Errorf("%w: unknown ocr_model %q", ErrInvalidConfig, c.Model)
	}
	if c.DPI < 0 {
		return fmt.Errorf("%w: dpi must not be negative", ErrInvalidConfig)
	}
	if c.PSM != nil && (*c.PSM < 0 || *c.PSM > 13) {
		return fmt.Errorf("%w: psm %d outside 0-13", ErrInvalidConfig, *c.PSM)
	}
	if c.OEM != nil && (*c.OEM < 0 || *c.OEM > 3) {
		return fmt.Errorf("%w: oem %d outside 0-3", ErrInvalidConfig, *c.OEM)
	}
	for _, lang := range c.Languages {
		if lang == "" || strings.ContainsAny(lang, " +") {
			return fmt.Errorf("%w: bad language %q", ErrInvalidConfig, lang)
		}
	}
	if c.Endpoint != "" {
		if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: endpoint %q must be an absolute URL", ErrInvalidConfig, c.Endpoint)
		}
	}
	return nil
}

// Int returns a pointer to v, for PSM and OEM literals.
func Int(v int) *int { return &v }
