package stream

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Config holds the poller's tunable parameters.
type Config struct {
	// Timing
	Interval    time.Duration // Delay between the end of one tick and the next
	SettleDelay time.Duration // Pause between publishing a frame and uploading it for detection

	Clock  clock.Clock
	Logger *slog.Logger
}

// DefaultConfig returns the 100ms polling cadence with a 50ms settle delay.
func DefaultConfig() Config {
	return Config{
		Interval:    100 * time.Millisecond,
		SettleDelay: 50 * time.Millisecond,
		Clock:       clock.New(),
		Logger:      slog.Default(),
	}
}

// Option is a functional option for configuring the poller.
type Option func(*Config)

// WithInterval sets the delay between ticks.
func WithInterval(d time.Duration) Option {
	return func(c *Config) { c.Interval = d }
}

// WithSettleDelay sets the pause before detection.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) { c.SettleDelay = d }
}

// WithClock sets the clock used for timers and cache-busting.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
