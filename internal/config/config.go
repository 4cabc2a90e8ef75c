// Package config provides configuration for the espcam panel.
// Values come from flags, overridden by environment variables when set.
package config

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults.
const (
	DefaultPort         = "8080"
	DefaultDeviceHost   = "http://192.168.1.11"
	DefaultPollInterval = 100 * time.Millisecond
	DefaultSettleDelay  = 50 * time.Millisecond
	DefaultStatusTTL    = 3 * time.Second
	DefaultRefWidth     = 600
	DefaultRefHeight    = 800
)

// Config holds all panel configuration.
type Config struct {
	Port     string
	LogLevel string

	// Camera
	DeviceURL string

	// Detection service. Empty DetectorURL disables detection.
	DetectorURL   string
	DetectorToken string
	MinConfidence float64
	SaveCaptures  bool

	// Poller timing
	PollInterval time.Duration
	SettleDelay  time.Duration

	// Reference resolution the detection service reports boxes in.
	RefWidth  int
	RefHeight int

	StatusTTL time.Duration
}

// DetectionEnabled reports whether a detection service is configured.
func (c *Config) DetectionEnabled() bool {
	return c.DetectorURL != ""
}

// Load parses args (usually os.Args[1:]) and applies environment overrides.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("espcam", flag.ContinueOnError)

	cfg := &Config{StatusTTL: DefaultStatusTTL}
	fs.StringVar(&cfg.Port, "port", DefaultPort, "HTTP server port")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.DeviceURL, "device", DefaultDeviceHost, "Camera base URL or host")
	fs.StringVar(&cfg.DetectorURL, "detector", "", "Detection service base URL (empty disables detection)")
	fs.Float64Var(&cfg.MinConfidence, "min-confidence", 0, "Drop detections below this confidence")
	fs.BoolVar(&cfg.SaveCaptures, "save-captures", false, "Upload captures to the detection service /save_image")
	fs.DurationVar(&cfg.PollInterval, "interval", DefaultPollInterval, "Delay between frame polls")
	fs.DurationVar(&cfg.SettleDelay, "settle", DefaultSettleDelay, "Delay between frame fetch and detection")
	fs.IntVar(&cfg.RefWidth, "ref-width", DefaultRefWidth, "Detection reference width in pixels")
	fs.IntVar(&cfg.RefHeight, "ref-height", DefaultRefHeight, "Detection reference height in pixels")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.DeviceURL = NormalizeURL(cfg.DeviceURL, "http")
	if cfg.DetectorURL != "" {
		cfg.DetectorURL = NormalizeURL(cfg.DetectorURL, "https")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DEVICE_HOST"); v != "" {
		c.DeviceURL = v
	}
	if v := os.Getenv("DETECTOR_URL"); v != "" {
		c.DetectorURL = v
	}
	if v := os.Getenv("DETECTOR_TOKEN"); v != "" {
		c.DetectorToken = v
	}
	if v := os.Getenv("MIN_CONFIDENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MIN_CONFIDENCE: %w", err)
		}
		c.MinConfidence = f
	}
	if v := os.Getenv("SAVE_CAPTURES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SAVE_CAPTURES: %w", err)
		}
		c.SaveCaptures = b
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
	}
	if v := os.Getenv("SETTLE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SETTLE_DELAY: %w", err)
		}
		c.SettleDelay = d
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if _, err := url.ParseRequestURI(c.DeviceURL); err != nil {
		return fmt.Errorf("invalid device URL %q: %w", c.DeviceURL, err)
	}
	if c.DetectorURL != "" {
		if _, err := url.ParseRequestURI(c.DetectorURL); err != nil {
			return fmt.Errorf("invalid detector URL %q: %w", c.DetectorURL, err)
		}
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be between 0 and 1, got %v", c.MinConfidence)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle delay cannot be negative")
	}
	if c.RefWidth <= 0 || c.RefHeight <= 0 {
		return fmt.Errorf("reference resolution must be positive, got %dx%d", c.RefWidth, c.RefHeight)
	}
	return nil
}

// NormalizeURL adds a scheme to bare hosts and trims trailing slashes.
// "192.168.1.11" becomes "http://192.168.1.11".
func NormalizeURL(raw, scheme string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if !strings.Contains(raw, "://") {
		raw = scheme + "://" + raw
	}
	return strings.TrimRight(raw, "/")
}
