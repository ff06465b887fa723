package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"blurcast/internal/auth"
	"blurcast/internal/camera"
	"blurcast/internal/pipeline"
	"blurcast/internal/pipeline/engines"
)

// Config holds all blurcast settings
type Config struct {
	Listen    string `yaml:"listen"`
	Browser   string `yaml:"browser"` // "firefox" or anything else
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Camera   camera.Device  `yaml:"camera"`
	Engine   EngineConfig   `yaml:"engine"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Preview  PreviewConfig  `yaml:"preview"`
	Auth     auth.Config    `yaml:"auth"`
}

// EngineConfig selects the segmentation backend
type EngineConfig struct {
	Name      string        `yaml:"name"` // grpc, http or local
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
	Threshold float64       `yaml:"threshold"`
}

// PipelineConfig tunes the blur pipeline
type PipelineConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	BlurSigma    float64       `yaml:"blur_sigma"`
	InitTimeout  time.Duration `yaml:"init_timeout"`
	SwapTimeout  time.Duration `yaml:"swap_timeout"`
}

// PreviewConfig controls the outbound preview
type PreviewConfig struct {
	CaptureFPS int  `yaml:"capture_fps"`
	Overlay    bool `yaml:"overlay"` // stamp MJPEG frames with their origin
}

// Default returns the built-in configuration
func Default() *Config {
	opts := pipeline.DefaultOptions()
	return &Config{
		Listen:    ":8080",
		Browser:   string(pipeline.BrowserOther),
		LogLevel:  "info",
		LogFormat: "json",
		Camera: camera.Device{
			ID:     "cam0",
			Name:   "Camera",
			Device: camera.TestPatternDevice,
			Width:  1280,
			Height: 720,
			FPS:    15,
		},
		Engine: EngineConfig{
			Name:     engines.EngineGRPC,
			Endpoint: "localhost:50051",
			Timeout:  opts.RequestTimeout,
		},
		Pipeline: PipelineConfig{
			TickInterval: opts.TickInterval,
			BlurSigma:    opts.BlurSigma,
			InitTimeout:  opts.InitTimeout,
			SwapTimeout:  opts.SwapTimeout,
		},
		Preview: PreviewConfig{CaptureFPS: 15},
		Auth:    auth.Config{Username: "admin", JWTExpiry: 24 * time.Hour},
	}
}

// Load reads configuration from a YAML file, then applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("BLURCAST_ENGINE"); v != "" {
		c.Engine.Name = v
	}
	if v := os.Getenv("BLURCAST_ENGINE_ENDPOINT"); v != "" {
		c.Engine.Endpoint = v
	}
	if v := os.Getenv("BLURCAST_BROWSER"); v != "" {
		c.Browser = v
	}
	if v := os.Getenv("BLURCAST_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("BLURCAST_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("BLURCAST_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BLURCAST_TICK_INTERVAL: %w", err)
		}
		c.Pipeline.TickInterval = d
	}
	if v := os.Getenv("BLURCAST_BLUR_SIGMA"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("BLURCAST_BLUR_SIGMA: %w", err)
		}
		c.Pipeline.BlurSigma = f
	}
	if v := os.Getenv("BLURCAST_CAPTURE_FPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BLURCAST_CAPTURE_FPS: %w", err)
		}
		c.Preview.CaptureFPS = n
	}

	// auth keeps its historical variable names
	env := auth.ConfigFromEnv()
	if os.Getenv("AUTH_ENABLED") != "" {
		c.Auth.Enabled = env.Enabled
	}
	if env.Username != "" {
		c.Auth.Username = env.Username
	}
	if env.Password != "" {
		c.Auth.Password = env.Password
	}
	if env.JWTSecret != "" {
		c.Auth.JWTSecret = env.JWTSecret
	}
	if env.JWTExpiry > 0 {
		c.Auth.JWTExpiry = env.JWTExpiry
	}
	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []error

	switch c.Engine.Name {
	case engines.EngineGRPC, engines.EngineHTTP:
		if c.Engine.Endpoint == "" {
			errs = append(errs, fmt.Errorf("engine.endpoint is required for the %s engine", c.Engine.Name))
		}
	case engines.EngineLocal:
	default:
		errs = append(errs, fmt.Errorf("engine.name must be one of grpc, http, local (got %q)", c.Engine.Name))
	}

	if c.Pipeline.TickInterval <= 0 {
		errs = append(errs, errors.New("pipeline.tick_interval must be positive"))
	}
	if c.Pipeline.BlurSigma <= 0 {
		errs = append(errs, errors.New("pipeline.blur_sigma must be positive"))
	}
	if c.Preview.CaptureFPS <= 0 || c.Preview.CaptureFPS > 60 {
		errs = append(errs, fmt.Errorf("preview.capture_fps must be between 1 and 60 (got %d)", c.Preview.CaptureFPS))
	}
	if c.Camera.Device == "" {
		errs = append(errs, errors.New("camera.device is required"))
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		errs = append(errs, errors.New("auth.password is required when auth is enabled"))
	}
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen address is required"))
	}

	return errors.Join(errs...)
}

// BrowserFamily returns the configured client family
func (c *Config) BrowserFamily() pipeline.BrowserFamily {
	return pipeline.ParseBrowserFamily(c.Browser)
}

// PipelineOptions converts the configuration for the controller
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Surface:        pipeline.SurfaceConfigFor(c.BrowserFamily()),
		TickInterval:   c.Pipeline.TickInterval,
		BlurSigma:      c.Pipeline.BlurSigma,
		InitTimeout:    c.Pipeline.InitTimeout,
		RequestTimeout: c.Engine.Timeout,
		SwapTimeout:    c.Pipeline.SwapTimeout,
	}
}

// EngineFactoryConfig converts the configuration for the engine factory
func (c *Config) EngineFactoryConfig() engines.FactoryConfig {
	return engines.FactoryConfig{
		Name:      c.Engine.Name,
		Endpoint:  c.Engine.Endpoint,
		Timeout:   c.Engine.Timeout,
		Threshold: c.Engine.Threshold,
	}
}
