package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/teslashibe/go-espcam/internal/httpc"
	"golang.org/x/oauth2"
)

const maxResponseSize = 1 << 20

// Client uploads frames to the detection service.
type Client struct {
	baseURL string
	config  *Config
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a new detection client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.BaseURL == "" {
		return nil, errors.New("detection: base URL required")
	}

	hc := httpc.NewClient(cfg.Timeout)
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
		hc.Timeout = cfg.Timeout
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		config:  cfg,
		http:    hc,
		logger:  cfg.Logger.With("component", "detection.client"),
	}, nil
}

// Detect submits a JPEG frame and returns the detected objects.
func (c *Client) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	if len(frame) == 0 {
		return nil, ErrNoImage
	}
	start := time.Now()

	status, body, err := c.upload(ctx, "/detect", "frame.jpg", frame)
	if err != nil {
		return nil, err
	}

	var result detectResponse
	if err := json.Unmarshal(body, &result); err != nil {
		if !isSuccess(status) {
			return nil, &APIError{StatusCode: status, Endpoint: "/detect"}
		}
		return nil, fmt.Errorf("%w: /detect: %w", ErrMalformedResponse, err)
	}

	if !isSuccess(status) || result.Status != "success" {
		return nil, &APIError{StatusCode: status, Message: result.Message, Endpoint: "/detect"}
	}

	dets := lo.Filter(result.Detections, func(d Detection, _ int) bool {
		return d.Confidence >= c.config.MinConfidence
	})

	c.logger.Debug("detect",
		"detections", len(dets),
		"dropped", len(result.Detections)-len(dets),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return dets, nil
}

// SaveImage uploads a capture to the service's image store.
func (c *Client) SaveImage(ctx context.Context, filename string, data []byte) (*SaveResult, error) {
	if len(data) == 0 {
		return nil, ErrNoImage
	}

	status, body, err := c.upload(ctx, "/save_image", filename, data)
	if err != nil {
		return nil, err
	}

	var result SaveResult
	if err := json.Unmarshal(body, &result); err != nil {
		if !isSuccess(status) {
			return nil, &APIError{StatusCode: status, Endpoint: "/save_image"}
		}
		return nil, fmt.Errorf("%w: /save_image: %w", ErrMalformedResponse, err)
	}

	if !isSuccess(status) || !result.Success {
		return nil, &APIError{StatusCode: status, Message: result.Message, Endpoint: "/save_image"}
	}
	return &result, nil
}

// Health checks service connectivity.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("detection: create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, "/health", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if !isSuccess(resp.StatusCode) {
		return &APIError{StatusCode: resp.StatusCode, Endpoint: "/health"}
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// upload posts data as the multipart field "image" and returns the raw reply.
func (c *Client) upload(ctx context.Context, path, filename string, data []byte) (int, []byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, filename))
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return 0, nil, fmt.Errorf("detection: create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return 0, nil, fmt.Errorf("detection: write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, nil, fmt.Errorf("detection: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return 0, nil, fmt.Errorf("detection: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, c.transportError(ctx, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: read body: %w", ErrUnreachable, path, err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) transportError(ctx context.Context, path string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("detection [%s]: %w", path, ctx.Err())
	}
	c.logger.Warn("request failed", "path", path, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrUnreachable, path, err)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
