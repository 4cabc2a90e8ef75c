// Package stream runs the single-flow frame polling loop.
//
// While streaming, each tick fetches a fresh still, publishes it, and when
// detection is on, waits a settle delay and publishes the detections for
// that same frame. The next tick is scheduled only after the current one
// finishes, so at most one frame flow is ever in flight.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/teslashibe/go-espcam/pkg/detection"
)

var (
	// ErrNotStreaming is returned when detection is enabled without a stream.
	ErrNotStreaming = errors.New("stream: not streaming")

	// ErrNoDetector is returned when detection is enabled but no detector is configured.
	ErrNoDetector = errors.New("stream: detection not configured")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("stream: poller closed")
)

// FetchErrorMessage is published when a frame cannot be fetched.
const FetchErrorMessage = "camera connection error"

// FrameSource produces still frames.
type FrameSource interface {
	StillURL(t time.Time) string
	FetchFrame(ctx context.Context, url string) ([]byte, error)
}

// Detector finds objects in a frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]detection.Detection, error)
}

// Frame is the current frame reference. It is never mutated once published.
type Frame struct {
	URL       string    `json:"url"`
	Seq       uint64    `json:"seq"`
	FetchedAt time.Time `json:"fetched_at"`
	Data      []byte    `json:"-"`
}

// State is a point-in-time copy of the poller state.
type State struct {
	Streaming      bool                  `json:"streaming"`
	Detecting      bool                  `json:"detecting"`
	SessionID      string                `json:"session_id,omitempty"`
	Frame          *Frame                `json:"frame,omitempty"`
	Detections     []detection.Detection `json:"detections"`
	DetectionSeq   uint64                `json:"detection_seq,omitempty"`
	Error          string                `json:"error,omitempty"`
	DetectionError string                `json:"detection_error,omitempty"`
}

// Poller drives the polling loop.
//
// Each Start opens a session with a new generation. Ticks carry the
// generation they were scheduled under and drop their results once it is
// no longer current.
type Poller struct {
	source   FrameSource
	detector Detector
	config   Config
	clock    clock.Clock
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	gen   uint64
	seq   uint64
	state State
	timer *clock.Timer

	inFlight atomic.Bool

	// Callbacks, set before Start. They run without locks held.
	OnFrame  func(Frame)
	OnChange func(State)
}

// New creates a poller. A nil detector leaves detection unavailable.
func New(source FrameSource, detector Detector, opts ...Option) *Poller {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		source:   source,
		detector: detector,
		config:   cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "stream"),
		ctx:      ctx,
		cancel:   cancel,
		state:    State{Detections: []detection.Detection{}},
	}
}

// DetectionAvailable reports whether a detector is configured.
func (p *Poller) DetectionAvailable() bool {
	return p.detector != nil
}

// Start opens a new session. It is a no-op while already streaming.
func (p *Poller) Start() error {
	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.state.Streaming {
		p.mu.Unlock()
		return nil
	}
	p.gen++
	gen := p.gen
	p.state.Streaming = true
	p.state.SessionID = uuid.NewString()
	p.state.Error = ""
	session := p.state.SessionID
	p.mu.Unlock()

	p.logger.Info("stream started", "session", session, "interval", p.config.Interval)
	p.notify()
	go p.tick(gen)
	return nil
}

// Stop ends the session, cancels the pending tick, turns detection off and
// clears detections. A tick already in flight finishes but its results are
// discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.state.Streaming {
		p.mu.Unlock()
		return
	}
	session := p.state.SessionID
	p.stopLocked("")
	p.mu.Unlock()

	p.logger.Info("stream stopped", "session", session)
	p.notify()
}

// Toggle starts the stream when stopped and stops it when running.
func (p *Poller) Toggle() error {
	if p.Snapshot().Streaming {
		p.Stop()
		return nil
	}
	return p.Start()
}

// EnableDetection turns detection on for the current session.
func (p *Poller) EnableDetection() error {
	p.mu.Lock()
	switch {
	case p.detector == nil:
		p.mu.Unlock()
		return ErrNoDetector
	case !p.state.Streaming:
		p.mu.Unlock()
		return ErrNotStreaming
	case p.state.Detecting:
		p.mu.Unlock()
		return nil
	}
	p.state.Detecting = true
	p.state.DetectionError = ""
	p.mu.Unlock()

	p.logger.Info("detection enabled")
	p.notify()
	return nil
}

// DisableDetection turns detection off and clears detections.
func (p *Poller) DisableDetection() {
	p.mu.Lock()
	if !p.state.Detecting {
		p.mu.Unlock()
		return
	}
	p.clearDetectionLocked()
	p.mu.Unlock()

	p.logger.Info("detection disabled")
	p.notify()
}

// Snapshot returns a copy of the current state.
func (p *Poller) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Close stops the stream and cancels any in-flight request.
func (p *Poller) Close() {
	p.Stop()
	p.cancel()
}

func (p *Poller) snapshotLocked() State {
	s := p.state
	s.Detections = append([]detection.Detection{}, p.state.Detections...)
	return s
}

func (p *Poller) stopLocked(reason string) {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.state.Streaming = false
	p.state.SessionID = ""
	p.state.Error = reason
	p.clearDetectionLocked()
}

func (p *Poller) clearDetectionLocked() {
	p.state.Detecting = false
	p.state.Detections = []detection.Detection{}
	p.state.DetectionSeq = 0
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen && p.state.Streaming
}

func (p *Poller) tick(gen uint64) {
	if !p.current(gen) {
		return
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		// A tick from an earlier session is still finishing.
		p.logger.Debug("tick dropped, previous frame still in flight")
		p.schedule(gen)
		return
	}

	next := p.run(gen)
	p.inFlight.Store(false)

	if next {
		p.schedule(gen)
	}
}

// run performs one fetch/publish/detect cycle and reports whether the
// session should continue.
func (p *Poller) run(gen uint64) bool {
	now := p.clock.Now()
	url := p.source.StillURL(now)

	data, err := p.source.FetchFrame(p.ctx, url)
	if err != nil {
		p.fetchFailed(gen, err)
		return false
	}

	frame, ok := p.publishFrame(gen, url, data, now)
	if !ok {
		return false
	}
	if p.OnFrame != nil {
		p.OnFrame(frame)
	}
	p.notify()

	if !p.detecting(gen) {
		return true
	}
	if !p.sleep(p.config.SettleDelay) {
		return false
	}
	if !p.detecting(gen) {
		return p.current(gen)
	}

	start := p.clock.Now()
	dets, err := p.detector.Detect(p.ctx, data)
	p.logger.Debug("detect finished",
		"seq", frame.Seq,
		"latency_ms", p.clock.Since(start).Milliseconds(),
		"error", err,
	)
	return p.publishDetections(gen, frame.Seq, dets, err)
}

func (p *Poller) fetchFailed(gen uint64, err error) {
	if p.ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	session := p.state.SessionID
	p.stopLocked(FetchErrorMessage)
	p.mu.Unlock()

	p.logger.Warn("frame fetch failed, stream stopped", "session", session, "error", err)
	p.notify()
}

func (p *Poller) publishFrame(gen uint64, url string, data []byte, at time.Time) (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || !p.state.Streaming {
		return Frame{}, false
	}
	p.seq++
	frame := Frame{URL: url, Seq: p.seq, FetchedAt: at, Data: data}
	p.state.Frame = &frame
	p.state.Error = ""
	return frame, true
}

func (p *Poller) publishDetections(gen, seq uint64, dets []detection.Detection, err error) bool {
	if p.ctx.Err() != nil {
		return false
	}
	p.mu.Lock()
	if p.gen != gen || !p.state.Streaming {
		p.mu.Unlock()
		return false
	}
	if !p.state.Detecting {
		// Disabled while the upload was in flight.
		p.mu.Unlock()
		return true
	}

	switch {
	case err == nil:
		if dets == nil {
			dets = []detection.Detection{}
		}
		p.state.Detections = dets
		p.state.DetectionSeq = seq
		p.state.DetectionError = ""
	case detection.ShouldDisable(err):
		p.clearDetectionLocked()
		p.state.DetectionError = detection.UserMessage(err)
		p.logger.Warn("detection service unreachable, detection disabled", "error", err)
	default:
		p.state.DetectionError = detection.UserMessage(err)
		p.logger.Warn("detection failed", "seq", seq, "error", err)
	}
	p.mu.Unlock()

	p.notify()
	return true
}

func (p *Poller) detecting(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen && p.state.Streaming && p.state.Detecting
}

func (p *Poller) schedule(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || !p.state.Streaming {
		return
	}
	p.timer = p.clock.AfterFunc(p.config.Interval, func() { p.tick(gen) })
}

func (p *Poller) sleep(d time.Duration) bool {
	if d <= 0 {
		return p.ctx.Err() == nil
	}
	t := p.clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *Poller) notify() {
	if p.OnChange == nil {
		return
	}
	p.OnChange(p.Snapshot())
}
