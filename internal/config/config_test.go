package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "DEVICE_HOST", "DETECTOR_URL", "DETECTOR_TOKEN",
		"MIN_CONFIDENCE", "SAVE_CAPTURES", "POLL_INTERVAL", "SETTLE_DELAY"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %s, want %s", cfg.Port, DefaultPort)
	}
	if cfg.DeviceURL != DefaultDeviceHost {
		t.Errorf("DeviceURL = %s, want %s", cfg.DeviceURL, DefaultDeviceHost)
	}
	if cfg.DetectionEnabled() {
		t.Error("detection should be disabled without a detector URL")
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, DefaultPollInterval)
	}
	if cfg.RefWidth != 600 || cfg.RefHeight != 800 {
		t.Errorf("reference = %dx%d, want 600x800", cfg.RefWidth, cfg.RefHeight)
	}
}

func TestLoadFlags(t *testing.T) {
	clearEnv(t)
	cfg, err := Load([]string{
		"-port", "9000",
		"-device", "10.0.0.5/",
		"-detector", "detector.example.com",
		"-interval", "250ms",
		"-save-captures",
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Port = %s, want 9000", cfg.Port)
	}
	if cfg.DeviceURL != "http://10.0.0.5" {
		t.Errorf("DeviceURL = %s, want http://10.0.0.5", cfg.DeviceURL)
	}
	if cfg.DetectorURL != "https://detector.example.com" {
		t.Errorf("DetectorURL = %s, want https://detector.example.com", cfg.DetectorURL)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.PollInterval)
	}
	if !cfg.SaveCaptures {
		t.Error("SaveCaptures should be true")
	}
}

func TestLoadEnvOverridesFlags(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")
	t.Setenv("DEVICE_HOST", "http://cam.local")
	t.Setenv("DETECTOR_TOKEN", "secret")
	t.Setenv("SETTLE_DELAY", "10ms")
	t.Setenv("MIN_CONFIDENCE", "0.6")

	cfg, err := Load([]string{"-port", "9000"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "7000" {
		t.Errorf("Port = %s, want 7000", cfg.Port)
	}
	if cfg.DeviceURL != "http://cam.local" {
		t.Errorf("DeviceURL = %s", cfg.DeviceURL)
	}
	if cfg.DetectorToken != "secret" {
		t.Errorf("DetectorToken = %s", cfg.DetectorToken)
	}
	if cfg.SettleDelay != 10*time.Millisecond {
		t.Errorf("SettleDelay = %v", cfg.SettleDelay)
	}
	if cfg.MinConfidence != 0.6 {
		t.Errorf("MinConfidence = %v", cfg.MinConfidence)
	}
}

func TestLoadBadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLL_INTERVAL", "soon")

	if _, err := Load(nil); err == nil {
		t.Error("expected error for unparsable POLL_INTERVAL")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Port:         "8080",
			DeviceURL:    "http://cam",
			PollInterval: time.Second,
			RefWidth:     600,
			RefHeight:    800,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"empty port", func(c *Config) { c.Port = "" }, false},
		{"bad device", func(c *Config) { c.DeviceURL = "not a url" }, false},
		{"confidence too high", func(c *Config) { c.MinConfidence = 1.5 }, false},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }, false},
		{"negative settle", func(c *Config) { c.SettleDelay = -time.Millisecond }, false},
		{"zero reference", func(c *Config) { c.RefWidth = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct{ in, scheme, want string }{
		{"192.168.1.11", "http", "http://192.168.1.11"},
		{"http://cam/", "http", "http://cam"},
		{"https://det.example.com", "http", "https://det.example.com"},
		{" det ", "https", "https://det"},
		{"", "http", ""},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in, tt.scheme); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
