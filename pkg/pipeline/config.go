package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/teslashibe/go-framescribe/pkg/frame"
	"github.com/teslashibe/go-framescribe/pkg/ocr"
	"github.com/teslashibe/go-framescribe/pkg/vision"
)

// Capture defaults and limits.
const (
	DefaultFPS           = 1.0
	MaxFPS               = 60.0
	DefaultChunkDuration = 60 * time.Second
	DefaultQuality       = frame.LosslessQuality
)

// CaptureConfig is the caller-facing capture configuration. Every field is
// optional; nil means "use the default".
type CaptureConfig struct {
	FPS *float64 `json:"fps,omitempty" mapstructure:"fps"`

	// Duration in seconds. Absent means run until cancelled or stopped.
	Duration *float64 `json:"duration,omitempty" mapstructure:"duration"`

	SaveScreenshotTo string `json:"save_screenshot_to,omitempty" mapstructure:"save_screenshot_to"`
	SaveVideoTo      string `json:"save_video_to,omitempty" mapstructure:"save_video_to"`

	// VideoChunkDuration in seconds.
	VideoChunkDuration *float64 `json:"video_chunk_duration,omitempty" mapstructure:"video_chunk_duration"`

	// Quality 100 keeps frames lossless (PNG); lower values use JPEG.
	Quality *int `json:"quality,omitempty" mapstructure:"quality"`
}

// EffectiveCapture is a CaptureConfig with defaults applied and limits checked.
type EffectiveCapture struct {
	FPS           float64
	Duration      time.Duration // zero is unbounded
	ScreenshotDir string
	VideoDir      string
	ChunkDuration time.Duration
	Quality       int
}

// Bounded reports whether the capture ends on its own.
func (e EffectiveCapture) Bounded() bool { return e.Duration > 0 }

// ProcessorConfig selects the processing engine for a run.
type ProcessorConfig struct {
	ProcessingType string         `json:"processing_type" mapstructure:"processing_type"`
	OCR            *ocr.Config    `json:"ocr_config,omitempty" mapstructure:"ocr_config"`
	Vision         *vision.Config `json:"vision_config,omitempty" mapstructure:"vision_config"`
}

// Processor is the normalized engine selection: OCRProcessor or VisionProcessor.
type Processor interface {
	Type() frame.ProcessingType
	Config() ProcessorConfig
	processor()
}

// OCRProcessor runs every frame through OCR.
type OCRProcessor struct {
	Settings ocr.Config
}

func (OCRProcessor) Type() frame.ProcessingType { return frame.OCR }

func (p OCRProcessor) Config() ProcessorConfig {
	cfg := p.Settings
	return ProcessorConfig{ProcessingType: frame.OCR.String(), OCR: &cfg}
}

func (OCRProcessor) processor() {}

// VisionProcessor runs every frame through a vision model.
type VisionProcessor struct {
	Settings vision.Config
}

func (VisionProcessor) Type() frame.ProcessingType { return frame.Vision }

func (p VisionProcessor) Config() ProcessorConfig {
	cfg := p.Settings
	return ProcessorConfig{ProcessingType: frame.Vision.String(), Vision: &cfg}
}

func (VisionProcessor) processor() {}

// DefaultProcessorConfig is OCR with the default OCR settings.
func DefaultProcessorConfig() ProcessorConfig {
	cfg := ocr.DefaultConfig()
	return ProcessorConfig{ProcessingType: frame.OCR.String(), OCR: &cfg}
}

// Normalize validates both configurations and applies defaults.
func Normalize(capture *CaptureConfig, proc ProcessorConfig) (*EffectiveCapture, Processor, error) {
	eff, err := NormalizeCapture(capture)
	if err != nil {
		return nil, nil, err
	}
	p, err := NormalizeProcessor(proc)
	if err != nil {
		return nil, nil, err
	}
	return eff, p, nil
}

// NormalizeCapture applies capture defaults. A nil config yields all defaults.
func NormalizeCapture(c *CaptureConfig) (*EffectiveCapture, error) {
	eff := &EffectiveCapture{
		FPS:           DefaultFPS,
		ChunkDuration: DefaultChunkDuration,
		Quality:       DefaultQuality,
	}
	if c == nil {
		return eff, nil
	}

	if c.FPS != nil {
		if *c.FPS <= 0 || *c.FPS > MaxFPS {
			return nil, invalidConfig("fps must be in (0, %v], got %v", MaxFPS, *c.FPS)
		}
		eff.FPS = *c.FPS
	}
	if c.Duration != nil {
		if *c.Duration <= 0 {
			return nil, invalidConfig("duration must be positive, got %v", *c.Duration)
		}
		eff.Duration = seconds(*c.Duration)
	}
	if c.VideoChunkDuration != nil {
		if *c.VideoChunkDuration <= 0 {
			return nil, invalidConfig("video_chunk_duration must be positive, got %v", *c.VideoChunkDuration)
		}
		eff.ChunkDuration = seconds(*c.VideoChunkDuration)
	}
	if c.Quality != nil {
		if *c.Quality < 0 || *c.Quality > 100 {
			return nil, invalidConfig("quality must be in [0, 100], got %d", *c.Quality)
		}
		eff.Quality = *c.Quality
	}

	for _, dir := range []struct{ name, path string }{
		{"save_screenshot_to", c.SaveScreenshotTo},
		{"save_video_to", c.SaveVideoTo},
	} {
		if dir.path == "" {
			continue
		}
		info, err := os.Stat(dir.path)
		if err != nil {
			return nil, invalidConfig("%s: %v", dir.name, err)
		}
		if !info.IsDir() {
			return nil, invalidConfig("%s: %s is not a directory", dir.name, dir.path)
		}
	}
	eff.ScreenshotDir = c.SaveScreenshotTo
	eff.VideoDir = c.SaveVideoTo

	return eff, nil
}

// NormalizeProcessor resolves the processing type and validates the engine
// config it selects. The config of the other engine is ignored.
func NormalizeProcessor(p ProcessorConfig) (Processor, error) {
	pt, err := frame.ParseProcessingType(p.ProcessingType)
	if err != nil {
		return nil, &Error{Kind: KindInvalidConfig, Op: "normalize", Err: err}
	}

	switch pt {
	case frame.OCR:
		if p.OCR == nil {
			return nil, invalidConfig("processing_type OCR requires ocr_config")
		}
		cfg := p.OCR.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, &Error{Kind: KindInvalidConfig, Op: "normalize", Err: err}
		}
		return OCRProcessor{Settings: cfg}, nil

	default:
		if p.Vision == nil {
			return nil, invalidConfig("processing_type Vision requires vision_config")
		}
		cfg := p.Vision.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, &Error{Kind: KindInvalidConfig, Op: "normalize", Err: err}
		}
		return VisionProcessor{Settings: cfg}, nil
	}
}

// ignoredConfig names the engine config that NormalizeProcessor discarded.
func ignoredConfig(p ProcessorConfig) string {
	switch {
	case p.ProcessingType == frame.OCR.String() && p.Vision != nil:
		return "vision_config"
	case p.ProcessingType == frame.Vision.String() && p.OCR != nil:
		return "ocr_config"
	}
	return ""
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func invalidConfig(format string, args ...any) error {
	return &Error{Kind: KindInvalidConfig, Op: "normalize", Err: fmt.Errorf(format, args...)}
}
