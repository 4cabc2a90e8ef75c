package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/teslashibe/go-espcam/internal/httpc"
)

// maxBodySize caps how much of a device response is read.
// SVGA JPEGs are well under 200KB; UXGA at best quality stays under 1MB.
const maxBodySize = 8 << 20

// Client talks to the device control endpoint.
// Every request is a single GET; nothing is retried.
type Client struct {
	baseURL string
	http    *http.Client
	clock   clock.Clock
	logger  *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for device requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout uses a dedicated HTTP client with the given timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = httpc.NewClient(d) }
}

// WithClock sets the clock used for cache-busting timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a device client for baseURL, e.g. "http://192.168.1.11".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpc.Client,
		clock:   clock.New(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "camera.client")
	return c
}

// StillURL returns the still-image URL. A non-zero t adds a cache-buster.
func (c *Client) StillURL(t time.Time) string {
	if t.IsZero() {
		return c.baseURL + "/?getstill=1"
	}
	return fmt.Sprintf("%s/?getstill=1&t=%d", c.baseURL, t.UnixMilli())
}

// FetchStill downloads a fresh still, cache-busted with the current time.
func (c *Client) FetchStill(ctx context.Context) ([]byte, error) {
	return c.FetchFrame(ctx, c.StillURL(c.clock.Now()))
}

// FetchFrame downloads the image at url, which should come from StillURL.
func (c *Client) FetchFrame(ctx context.Context, url string) ([]byte, error) {
	return c.getImage(ctx, "getstill", url)
}

// Capture asks the device for a capture and returns the JPEG.
func (c *Client) Capture(ctx context.Context) ([]byte, error) {
	return c.getImage(ctx, "capture", c.baseURL+"/?capture=1;stop")
}

// SetFlash sets the flash LED intensity (0-255).
func (c *Client) SetFlash(ctx context.Context, v int) error {
	return c.Set(ctx, Flash, v)
}

// SetQuality sets the JPEG quality (10-63).
func (c *Client) SetQuality(ctx context.Context, v int) error {
	return c.Set(ctx, Quality, v)
}

// SetBrightness sets the sensor brightness (-2 to 2).
func (c *Client) SetBrightness(ctx context.Context, v int) error {
	return c.Set(ctx, Brightness, v)
}

// SetContrast sets the sensor contrast (-2 to 2).
func (c *Client) SetContrast(ctx context.Context, v int) error {
	return c.Set(ctx, Contrast, v)
}

// Set pushes one parameter value to the device.
// Out-of-range values fail before any request is made.
func (c *Client) Set(ctx context.Context, p Param, v int) error {
	if err := p.Validate(v); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/?%s=%d;stop", c.baseURL, p, v)
	status, body, err := c.get(ctx, string(p), url)
	if err != nil {
		return err
	}

	return c.checkAck(string(p), status, body)
}

// checkAck inspects a 2xx acknowledgement. The firmware is not consistent
// about what it returns, so only a structured failure counts as one.
func (c *Client) checkAck(op string, status int, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var ack struct {
		Status  string `json:"status"`
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		c.logger.Debug("unstructured acknowledgement, assuming applied",
			"op", op,
			"bytes", len(body),
		)
		return nil
	}

	if strings.EqualFold(ack.Status, "error") || (ack.Success != nil && !*ack.Success) {
		return &APIError{Op: op, StatusCode: status, Message: ack.Message}
	}
	return nil
}

// getImage fetches url and requires the body to be an image.
func (c *Client) getImage(ctx context.Context, op, url string) ([]byte, error) {
	_, body, err := c.get(ctx, op, url)
	if err != nil {
		return nil, err
	}

	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s returned an empty body", ErrMalformedResponse, op)
	}
	if ct := http.DetectContentType(body); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: %s returned %s", ErrMalformedResponse, op, ct)
	}
	return body, nil
}

// get performs a GET and returns the status and body of a 2xx response.
func (c *Client) get(ctx context.Context, op, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("camera [%s]: create request: %w", op, err)
	}

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("camera [%s]: %w", op, ctx.Err())
		}
		return 0, nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: read body: %w", ErrUnreachable, op, err)
	}

	c.logger.Debug("device request",
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(body),
		"latency", c.clock.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    truncate(strings.TrimSpace(string(body)), 200),
		}
	}

	return resp.StatusCode, body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
