package detection

import (
	"log/slog"
	"time"
)

// Config holds client configuration.
type Config struct {
	// Connection
	BaseURL string // Service base URL, e.g. "https://detector.example.com"
	Token   string // Bearer token (optional)

	// MinConfidence drops detections below this score. Zero keeps all.
	MinConfidence float64

	// Timeout bounds a single upload.
	Timeout time.Duration

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithBaseURL sets the service base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Config) { c.Token = token }
}

// WithMinConfidence sets the client-side score filter.
func WithMinConfidence(v float64) Option {
	return func(c *Config) { c.MinConfidence = v }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns sensible defaults.
// The detector runs on a small CPU instance, so uploads get a generous timeout.
func DefaultConfig() *Config {
	return &Config{
		Timeout: 15 * time.Second,
		Logger:  slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
