package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/samber/lo"
	"github.com/teslashibe/go-espcam/pkg/camera"
	"github.com/teslashibe/go-espcam/pkg/detection"
	"github.com/teslashibe/go-espcam/pkg/hub"
	"github.com/teslashibe/go-espcam/pkg/panel"
	"github.com/teslashibe/go-espcam/pkg/stream"
)

// ParamInfo describes one camera parameter for the page.
type ParamInfo struct {
	Name  camera.Param `json:"name"`
	Min   int          `json:"min"`
	Max   int          `json:"max"`
	Value int          `json:"value"`
}

// SetParamRequest is the request body for setting a parameter
type SetParamRequest struct {
	Value *int `json:"value"`
}

// handleIndex serves the embedded control page
func (s *Server) handleIndex(c *fiber.Ctx) error {
	page, err := fs.ReadFile(static, "static/index.html")
	if err != nil {
		return fiber.ErrNotFound
	}
	c.Type("html")
	return c.Send(page)
}

// handleState returns the current panel state
func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.panel.State())
}

// handleListParams returns every parameter with its range and current value
func (s *Server) handleListParams(c *fiber.Ctx) error {
	settings := s.panel.Settings()
	params := lo.Map(camera.Params, func(p camera.Param, _ int) ParamInfo {
		r := p.Range()
		return ParamInfo{Name: p, Min: r.Min, Max: r.Max, Value: settings.Get(p)}
	})
	return c.JSON(params)
}

// handleSetParam pushes one parameter to the device
func (s *Server) handleSetParam(c *fiber.Ctx) error {
	name := c.Params("name")

	var req SetParamRequest
	if err := c.BodyParser(&req); err != nil || req.Value == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must be {\"value\": <integer>}",
		})
	}

	if err := s.panel.SetParam(c.UserContext(), name, *req.Value); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error":    camera.UserMessage(err),
			"settings": s.panel.Settings(),
		})
	}

	return c.JSON(fiber.Map{
		"param":    name,
		"value":    *req.Value,
		"settings": s.panel.Settings(),
	})
}

func (s *Server) handleStreamStart(c *fiber.Ctx) error {
	if err := s.panel.StartStream(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(s.panel.State())
}

func (s *Server) handleStreamStop(c *fiber.Ctx) error {
	s.panel.StopStream()
	return c.JSON(s.panel.State())
}

func (s *Server) handleStreamToggle(c *fiber.Ctx) error {
	if err := s.panel.ToggleStream(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(s.panel.State())
}

func (s *Server) handleDetectionStart(c *fiber.Ctx) error {
	if err := s.panel.SetDetection(true); err != nil {
		state := s.panel.State()
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error": state.Message,
			"state": state,
		})
	}
	return c.JSON(s.panel.State())
}

func (s *Server) handleDetectionStop(c *fiber.Ctx) error {
	s.panel.SetDetection(false)
	return c.JSON(s.panel.State())
}

// handleCapture downloads a capture and returns it as an attachment
func (s *Server) handleCapture(c *fiber.Ctx) error {
	capture, err := s.panel.Capture(c.UserContext())
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error": s.panel.State().CaptureStatus,
		})
	}
	s.captures.Add(1)

	c.Attachment(capture.Filename)
	c.Type("jpg")
	if capture.SavedAs != "" {
		c.Set("X-Saved-As", capture.SavedAs)
	}
	return c.Send(capture.Data)
}

// handleFrame returns the current frame, annotated on request
func (s *Server) handleFrame(c *fiber.Ctx) error {
	annotated := c.QueryBool("annotated", false)

	data, err := s.panel.Frame(c.UserContext(), annotated)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	c.Type("jpg")
	return c.Send(data)
}

// handleLogs returns the activity log
func (s *Server) handleLogs(c *fiber.Ctx) error {
	return c.JSON(s.panel.Events())
}

// handleHealth reports the panel state and detection service reachability
func (s *Server) handleHealth(c *fiber.Ctx) error {
	state := s.panel.State()

	detector := "disabled"
	if s.config.Detector != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), s.config.HealthTimeout)
		defer cancel()
		if err := s.config.Detector.Health(ctx); err != nil {
			s.logger.Debug("detector health check failed", "error", err)
			detector = "unreachable"
		} else {
			detector = "ok"
		}
	}

	device := "idle"
	switch {
	case state.StreamError != "":
		device = "error"
	case state.Streaming:
		device = "streaming"
	}

	feeds := lo.Ternary(lo.EveryBy(s.hubs(), (*hub.Hub).IsRunning), "running", "stopped")

	return c.JSON(fiber.Map{
		"status":    "ok",
		"version":   s.config.Version,
		"device":    device,
		"detector":  detector,
		"feeds":     feeds,
		"streaming": state.Streaming,
		"detecting": state.Detecting,
	})
}

// handleMetrics exposes counters in the Prometheus text format
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	state := s.panel.State()
	c.Type("txt")
	return c.SendString(fmt.Sprintf(`# HELP espcam_streaming Whether the stream is running
# TYPE espcam_streaming gauge
espcam_streaming %d

# HELP espcam_detecting Whether detection is running
# TYPE espcam_detecting gauge
espcam_detecting %d

# HELP espcam_ws_clients Connected websocket clients
# TYPE espcam_ws_clients gauge
espcam_ws_clients{feed="state"} %d
espcam_ws_clients{feed="frames"} %d
espcam_ws_clients{feed="logs"} %d

# HELP espcam_states_broadcast_total State snapshots broadcast
# TYPE espcam_states_broadcast_total counter
espcam_states_broadcast_total %d

# HELP espcam_frames_broadcast_total Frames broadcast
# TYPE espcam_frames_broadcast_total counter
espcam_frames_broadcast_total %d

# HELP espcam_captures_total Captures downloaded
# TYPE espcam_captures_total counter
espcam_captures_total %d
`,
		lo.Ternary(state.Streaming, 1, 0),
		lo.Ternary(state.Detecting, 1, 0),
		s.stateHub.ClientCount(), s.frameHub.ClientCount(), s.logHub.ClientCount(),
		s.statesSent.Load(), s.framesSent.Load(), s.captures.Load(),
	))
}

// handleStateWS streams JSON state snapshots, starting with the current one
func (s *Server) handleStateWS(c *websocket.Conn) {
	var initial []hub.Message
	if data, err := json.Marshal(s.panel.State()); err == nil {
		initial = append(initial, hub.NewJSONMessage(data))
	}
	hub.NewClient(s.stateHub, c, initial...).Run()
}

// handleFramesWS streams binary JPEG frames, starting with the current one
func (s *Server) handleFramesWS(c *websocket.Conn) {
	var initial []hub.Message
	if f := s.panel.State().Frame; f != nil {
		initial = append(initial, hub.NewBinaryMessage(f.Data))
	}
	hub.NewClient(s.frameHub, c, initial...).Run()
}

// handleLogsWS streams activity log entries, starting with the recent ones
func (s *Server) handleLogsWS(c *websocket.Conn) {
	initial := lo.FilterMap(s.panel.Events(), func(e panel.Event, _ int) (hub.Message, bool) {
		data, err := json.Marshal(e)
		return hub.NewJSONMessage(data), err == nil
	})
	hub.NewClient(s.logHub, c, initial...).Run()
}

// statusFor maps panel errors to HTTP status codes.
func statusFor(err error) int {
	var rangeErr *camera.RangeError
	switch {
	case errors.As(err, &rangeErr), errors.Is(err, camera.ErrUnknownParam):
		return fiber.StatusBadRequest
	case errors.Is(err, stream.ErrNotStreaming), errors.Is(err, panel.ErrCaptureInProgress):
		return fiber.StatusConflict
	case errors.Is(err, stream.ErrNoDetector), errors.Is(err, stream.ErrClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case camera.IsUnreachable(err), camera.IsRejected(err),
		errors.Is(err, camera.ErrMalformedResponse), detection.IsRejected(err):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}
