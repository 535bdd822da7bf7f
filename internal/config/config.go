// Package config loads framescribe settings from a YAML file and
// FRAMESCRIBE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-framescribe/pkg/ocr"
	"github.com/teslashibe/go-framescribe/pkg/pipeline"
	"github.com/teslashibe/go-framescribe/pkg/web"
)

// EnvPrefix prefixes every environment override, e.g. FRAMESCRIBE_WORKERS or
// FRAMESCRIBE_PROCESSOR_CONFIG_VISION_CONFIG_API_KEY.
const EnvPrefix = "FRAMESCRIBE"

// Server holds the HTTP API settings.
type Server struct {
	Addr               string  `mapstructure:"addr"`
	MaxCaptureDuration float64 `mapstructure:"max_capture_duration"`
	UploadDir          string  `mapstructure:"upload_dir"`
	UploadRoot         string  `mapstructure:"upload_root"`
	BodyLimit          int     `mapstructure:"body_limit"`
}

// Config is the full file layout.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	StorePath string `mapstructure:"store_path"`

	// Workers bounds concurrent inference calls per run.
	Workers int `mapstructure:"workers"`

	// Policy is "fail-fast" or "partial".
	Policy string `mapstructure:"policy"`

	// DecodeEvery keeps one decoded video frame out of DecodeEvery.
	DecodeEvery int `mapstructure:"decode_every"`

	Server    Server                   `mapstructure:"server"`
	Capture   pipeline.CaptureConfig   `mapstructure:"capture_config"`
	Processor pipeline.ProcessorConfig `mapstructure:"processor_config"`
}

// Nested keys with no default are invisible to AutomaticEnv, so they are
// bound explicitly.
var envKeys = []string{
	"capture_config.fps",
	"capture_config.duration",
	"capture_config.save_screenshot_to",
	"capture_config.save_video_to",
	"capture_config.video_chunk_duration",
	"capture_config.quality",
	"processor_config.ocr_config.ocr_model",
	"processor_config.ocr_config.api_key",
	"processor_config.ocr_config.endpoint",
	"processor_config.vision_config.url",
	"processor_config.vision_config.api_key",
	"processor_config.vision_config.model",
	"processor_config.vision_config.provider",
	"processor_config.vision_config.prompt",
}

func newViper() *viper.Viper {
	v := viper.New()
	def := web.DefaultConfig()

	v.SetDefault("log_level", "info")
	v.SetDefault("store_path", "")
	v.SetDefault("workers", 0)
	v.SetDefault("policy", pipeline.FailFast.String())
	v.SetDefault("decode_every", 1)
	v.SetDefault("server.addr", def.Addr)
	v.SetDefault("server.max_capture_duration", def.MaxCaptureDuration)
	v.SetDefault("server.upload_dir", "")
	v.SetDefault("server.upload_root", "")
	v.SetDefault("server.body_limit", def.BodyLimit)
	v.SetDefault("processor_config.processing_type", "OCR")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		v.BindEnv(k)
	}
	return v
}

// Load reads path, or framescribe.yaml from the working directory and
// ~/.framescribe when path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("framescribe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.framescribe")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if cfg.Processor.ProcessingType == "OCR" && cfg.Processor.OCR == nil {
		def := ocr.DefaultConfig()
		cfg.Processor.OCR = &def
	}
	if _, err := pipeline.ParsePolicy(cfg.Policy); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Web returns the HTTP server settings.
func (c *Config) Web() web.Config {
	return web.Config{
		Addr:               c.Server.Addr,
		MaxCaptureDuration: c.Server.MaxCaptureDuration,
		UploadDir:          c.Server.UploadDir,
		UploadRoot:         c.Server.UploadRoot,
		BodyLimit:          c.Server.BodyLimit,
	}
}

// RunnerOptions returns the pipeline options the settings imply.
func (c *Config) RunnerOptions() []pipeline.Option {
	policy, _ := pipeline.ParsePolicy(c.Policy)
	return []pipeline.Option{
		pipeline.WithWorkers(c.Workers),
		pipeline.WithPolicy(policy),
	}
}
