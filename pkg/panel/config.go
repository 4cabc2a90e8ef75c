package panel

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/teslashibe/go-espcam/pkg/overlay"
)

// Config holds panel settings.
type Config struct {
	Reference overlay.Reference // Resolution detection boxes are expressed in
	StatusTTL time.Duration     // How long a finished capture status stays visible
	MaxEvents int               // Size of the activity log

	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the default panel configuration.
func DefaultConfig() Config {
	return Config{
		Reference: overlay.DefaultReference(),
		StatusTTL: 3 * time.Second,
		MaxEvents: 200,
		Clock:     clock.New(),
		Logger:    slog.Default(),
	}
}

// Option is a functional option for configuring the panel.
type Option func(*Config)

// WithReference sets the detection reference resolution.
func WithReference(ref overlay.Reference) Option {
	return func(c *Config) { c.Reference = ref }
}

// WithStatusTTL sets how long the capture status stays visible.
func WithStatusTTL(d time.Duration) Option {
	return func(c *Config) { c.StatusTTL = d }
}

// WithMaxEvents sets the activity log size.
func WithMaxEvents(n int) Option {
	return func(c *Config) { c.MaxEvents = n }
}

// WithClock sets the clock used for timestamps and status timers.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
