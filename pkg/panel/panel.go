// Package panel is the control panel state object: camera parameters,
// stream and detection toggles, captures, and the messages shown to the user.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/teslashibe/go-espcam/pkg/camera"
	"github.com/teslashibe/go-espcam/pkg/detection"
	"github.com/teslashibe/go-espcam/pkg/overlay"
	"github.com/teslashibe/go-espcam/pkg/stream"
)

// Messages shown to the user.
const (
	NotStreamingMessage = "start the stream before enabling detection"
	NoDetectorMessage   = "detection service not configured"

	CapturingStatus     = "capturing..."
	CapturedStatus      = "image captured"
	CaptureFailedStatus = "capture failed"
)

// ErrCaptureInProgress is returned when a capture is requested while another runs.
var ErrCaptureInProgress = errors.New("panel: capture in progress")

// ErrNoFrame is returned when no frame is available.
var ErrNoFrame = errors.New("panel: no frame available")

// Device is the subset of the camera client the panel calls directly.
type Device interface {
	Capture(ctx context.Context) ([]byte, error)
	FetchStill(ctx context.Context) ([]byte, error)
	StillURL(t time.Time) string
}

// Saver stores captures remotely.
type Saver interface {
	SaveImage(ctx context.Context, filename string, data []byte) (*detection.SaveResult, error)
}

// State is the full view state sent to the browser.
type State struct {
	Settings           camera.Settings               `json:"settings"`
	Ranges             map[camera.Param]camera.Range `json:"ranges"`
	Streaming          bool                          `json:"streaming"`
	Detecting          bool                          `json:"detecting"`
	DetectionAvailable bool                          `json:"detection_available"`
	SessionID          string                        `json:"session_id,omitempty"`
	Frame              *stream.Frame                 `json:"frame,omitempty"`
	StillURL           string                        `json:"still_url"`
	Detections         []detection.Detection         `json:"detections"`
	Overlays           []overlay.Placement           `json:"overlays"`
	Reference          overlay.Reference             `json:"reference"`
	StreamError        string                        `json:"stream_error,omitempty"`
	DetectionError     string                        `json:"detection_error,omitempty"`
	Message            string                        `json:"message,omitempty"`
	CaptureStatus      string                        `json:"capture_status,omitempty"`
	Capturing          bool                          `json:"capturing"`
}

// Capture is a downloaded capture.
type Capture struct {
	Filename string
	Data     []byte
	SavedAs  string
}

// Panel owns the view state. Handlers call it concurrently.
// The panel lock is never held while calling the poller or the device.
type Panel struct {
	params *camera.Manager
	device Device
	saver  Saver
	poller *stream.Poller
	config Config
	clock  clock.Clock
	logger *slog.Logger

	mu            sync.Mutex
	message       string
	captureStatus string
	capturing     bool
	statusGen     uint64
	statusTimer   *clock.Timer
	events        []Event

	// notifyMu orders snapshots with their delivery so the last OnChange
	// always carries the latest state.
	notifyMu sync.Mutex

	// Callbacks, set before use. OnChange calls are serialized; the others
	// run without locks held.
	OnChange func(State)
	OnFrame  func(stream.Frame)
	OnEvent  func(Event)
}

// New creates a panel over the parameter manager, device and poller.
// A nil saver keeps captures local.
func New(params *camera.Manager, device Device, poller *stream.Poller, saver Saver, opts ...Option) *Panel {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.Reference.Valid() {
		cfg.Reference = overlay.DefaultReference()
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}

	p := &Panel{
		params: params,
		device: device,
		saver:  saver,
		poller: poller,
		config: cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("component", "panel"),
		events: make([]Event, 0, cfg.MaxEvents),
	}

	poller.OnChange = func(stream.State) { p.notify() }
	poller.OnFrame = func(f stream.Frame) {
		if p.OnFrame != nil {
			p.OnFrame(f)
		}
	}
	params.OnChange = func(s camera.Settings) {
		p.logger.Debug("settings stored", "settings", s)
	}
	return p
}

// SetParam pushes one parameter to the device. On failure the previous value
// stays and a message is shown.
func (p *Panel) SetParam(ctx context.Context, name string, value int) error {
	err := p.params.ApplyNamed(ctx, name, value)
	if err != nil {
		msg := fmt.Sprintf("could not set %s: %s", name, camera.UserMessage(err))
		p.logger.Warn("set parameter failed", "param", name, "value", value, "error", err)
		p.setMessage(msg)
		p.addEvent(EventError, msg)
		return err
	}

	p.setMessage("")
	p.addEvent(EventParam, fmt.Sprintf("%s set to %d", name, value))
	return nil
}

// StartStream starts polling.
func (p *Panel) StartStream() error {
	if err := p.poller.Start(); err != nil {
		return err
	}
	p.setMessage("")
	p.addEvent(EventStream, "stream started")
	return nil
}

// StopStream stops polling. Detection goes off with it.
func (p *Panel) StopStream() {
	wasStreaming := p.poller.Snapshot().Streaming
	p.poller.Stop()
	if wasStreaming {
		p.addEvent(EventStream, "stream stopped")
	}
}

// ToggleStream flips the stream state.
func (p *Panel) ToggleStream() error {
	if p.poller.Snapshot().Streaming {
		p.StopStream()
		return nil
	}
	return p.StartStream()
}

// SetDetection turns detection on or off. Enabling without a stream only
// sets a message.
func (p *Panel) SetDetection(on bool) error {
	if !on {
		wasDetecting := p.poller.Snapshot().Detecting
		p.poller.DisableDetection()
		if wasDetecting {
			p.addEvent(EventDetection, "detection disabled")
		}
		return nil
	}

	err := p.poller.EnableDetection()
	switch {
	case errors.Is(err, stream.ErrNotStreaming):
		p.setMessage(NotStreamingMessage)
		return err
	case errors.Is(err, stream.ErrNoDetector):
		p.setMessage(NoDetectorMessage)
		return err
	case err != nil:
		return err
	}
	p.setMessage("")
	p.addEvent(EventDetection, "detection enabled")
	return nil
}

// Capture downloads a full-quality capture from the device, names it, and
// uploads it when a saver is configured. The capture status clears itself
// after the configured TTL.
func (p *Panel) Capture(ctx context.Context) (*Capture, error) {
	p.mu.Lock()
	if p.capturing {
		p.mu.Unlock()
		return nil, ErrCaptureInProgress
	}
	p.capturing = true
	p.setStatusLocked(CapturingStatus, false)
	p.mu.Unlock()
	p.notify()

	data, err := p.device.Capture(ctx)
	if err != nil {
		status := CaptureFailedStatus + ": " + camera.UserMessage(err)
		p.logger.Warn("capture failed", "error", err)
		p.finishCapture(status)
		p.addEvent(EventError, status)
		return nil, err
	}

	capture := &Capture{Filename: CaptureFilename(p.clock.Now()), Data: data}
	status := CapturedStatus

	if p.saver != nil {
		res, err := p.saver.SaveImage(ctx, capture.Filename, data)
		if err != nil {
			p.logger.Warn("capture upload failed", "filename", capture.Filename, "error", err)
			status = CapturedStatus + ", upload failed: " + detection.UserMessage(err)
		} else {
			capture.SavedAs = res.Filename
			status = CapturedStatus + ", saved as " + res.Filename
		}
	}

	p.logger.Info("capture complete", "filename", capture.Filename, "bytes", len(data), "saved_as", capture.SavedAs)
	p.finishCapture(status)
	p.addEvent(EventCapture, status)
	return capture, nil
}

// Frame returns the current frame, optionally with detections drawn on it.
// Without a current frame a fresh still is fetched.
func (p *Panel) Frame(ctx context.Context, annotated bool) ([]byte, error) {
	s := p.poller.Snapshot()

	var data []byte
	if s.Frame != nil {
		data = s.Frame.Data
	} else {
		still, err := p.device.FetchStill(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoFrame, err)
		}
		data = still
	}

	if !annotated || len(s.Detections) == 0 {
		return data, nil
	}
	return overlay.Annotate(data, overlay.Render(s.Detections, p.config.Reference))
}

// State returns a snapshot of the whole view.
func (p *Panel) State() State {
	s := p.poller.Snapshot()
	settings := p.params.Settings()

	p.mu.Lock()
	message := p.message
	captureStatus := p.captureStatus
	capturing := p.capturing
	p.mu.Unlock()

	return State{
		Settings:           settings,
		Ranges:             camera.Capabilities(),
		Streaming:          s.Streaming,
		Detecting:          s.Detecting,
		DetectionAvailable: p.poller.DetectionAvailable(),
		SessionID:          s.SessionID,
		Frame:              s.Frame,
		StillURL:           p.device.StillURL(time.Time{}),
		Detections:         s.Detections,
		Overlays:           overlay.Render(s.Detections, p.config.Reference),
		Reference:          p.config.Reference,
		StreamError:        s.Error,
		DetectionError:     s.DetectionError,
		Message:            message,
		CaptureStatus:      captureStatus,
		Capturing:          capturing,
	}
}

// Settings returns the last-known-good camera settings.
func (p *Panel) Settings() camera.Settings {
	return p.params.Settings()
}

// Close stops the stream and any pending status timer.
func (p *Panel) Close() {
	p.poller.Close()

	p.mu.Lock()
	if p.statusTimer != nil {
		p.statusTimer.Stop()
		p.statusTimer = nil
	}
	p.mu.Unlock()
}

// CaptureFilename names a capture after its UTC time, with ':' and '.'
// replaced so the name is safe on every filesystem.
func CaptureFilename(t time.Time) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return "capture_" + strings.NewReplacer(":", "-", ".", "-").Replace(ts) + ".jpg"
}

func (p *Panel) finishCapture(status string) {
	p.mu.Lock()
	p.capturing = false
	p.setStatusLocked(status, true)
	p.mu.Unlock()
	p.notify()
}

// setStatusLocked replaces the capture status. A transient status is
// cleared after StatusTTL unless a newer status replaced it first.
func (p *Panel) setStatusLocked(status string, transient bool) {
	p.statusGen++
	gen := p.statusGen
	p.captureStatus = status
	if p.statusTimer != nil {
		p.statusTimer.Stop()
		p.statusTimer = nil
	}
	if !transient {
		return
	}
	p.statusTimer = p.clock.AfterFunc(p.config.StatusTTL, func() {
		p.mu.Lock()
		if p.statusGen != gen {
			p.mu.Unlock()
			return
		}
		p.captureStatus = ""
		p.statusTimer = nil
		p.mu.Unlock()
		p.notify()
	})
}

func (p *Panel) setMessage(msg string) {
	p.mu.Lock()
	p.message = msg
	p.mu.Unlock()
	p.notify()
}

func (p *Panel) notify() {
	if p.OnChange == nil {
		return
	}
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	p.OnChange(p.State())
}
