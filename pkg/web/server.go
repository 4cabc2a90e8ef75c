// Package web serves the camera control panel: the embedded page, a JSON API
// over the panel, and websocket feeds of state, frames and activity.
package web

import (
	"context"
	"embed"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-espcam/pkg/hub"
	"github.com/teslashibe/go-espcam/pkg/panel"
	"github.com/teslashibe/go-espcam/pkg/stream"
)

//go:embed static
var static embed.FS

// HealthChecker probes a dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Config holds server settings.
type Config struct {
	Port          string
	Version       string
	Detector      HealthChecker // nil when detection is not configured
	HealthTimeout time.Duration
	RequestLog    bool
	Logger        *slog.Logger
}

// Option is a functional option for configuring the server.
type Option func(*Config)

// WithPort sets the listen port.
func WithPort(port string) Option {
	return func(c *Config) { c.Port = port }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(c *Config) { c.Version = v }
}

// WithDetector sets the detection service probed by /health.
func WithDetector(d HealthChecker) Option {
	return func(c *Config) { c.Detector = d }
}

// WithRequestLog enables per-request access logging.
func WithRequestLog(on bool) Option {
	return func(c *Config) { c.RequestLog = on }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Server is the control panel web server
type Server struct {
	app    *fiber.App
	panel  *panel.Panel
	config Config
	logger *slog.Logger

	// Hubs for websocket broadcast
	stateHub *hub.Hub
	frameHub *hub.Hub
	logHub   *hub.Hub

	mu         sync.Mutex
	cancelHubs context.CancelFunc

	statesSent atomic.Uint64
	framesSent atomic.Uint64
	captures   atomic.Uint64
}

// NewServer creates the server and subscribes it to panel changes.
func NewServer(p *panel.Panel, opts ...Option) *Server {
	cfg := Config{
		Port:          "8080",
		Version:       "dev",
		HealthTimeout: 2 * time.Second,
		Logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	log := cfg.Logger.With("component", "web")
	s := &Server{
		panel:    p,
		config:   cfg,
		logger:   log,
		stateHub: hub.New("state", cfg.Logger),
		frameHub: hub.New("frames", cfg.Logger),
		logHub:   hub.New("logs", cfg.Logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "espcam",
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if cfg.RequestLog {
		app.Use(logger.New())
	}

	s.RegisterRoutes(app)
	s.RegisterAPIRoutes(app.Group("/api"))

	p.OnChange = s.broadcastState
	p.OnFrame = s.broadcastFrame
	p.OnEvent = func(e panel.Event) { s.logHub.BroadcastJSON(e) }

	s.app = app
	return s
}

// RegisterRoutes registers the page, health, metrics and websocket routes.
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Get("/", s.handleIndex)
	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/state", websocket.New(s.handleStateWS))
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))
}

// RegisterAPIRoutes registers the JSON API under router.
func (s *Server) RegisterAPIRoutes(router fiber.Router) {
	router.Get("/state", s.handleState)
	router.Get("/params", s.handleListParams)
	router.Put("/params/:name", s.handleSetParam)
	router.Post("/stream/start", s.handleStreamStart)
	router.Post("/stream/stop", s.handleStreamStop)
	router.Post("/stream/toggle", s.handleStreamToggle)
	router.Post("/detection/start", s.handleDetectionStart)
	router.Post("/detection/stop", s.handleDetectionStop)
	router.Post("/capture", s.handleCapture)
	router.Get("/frame", s.handleFrame)
	router.Get("/logs", s.handleLogs)
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the hubs and serves until the listener fails or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelHubs = cancel
	s.mu.Unlock()

	for _, h := range s.hubs() {
		go h.Run(hubCtx)
	}

	s.logger.Info("web panel listening", "addr", "http://localhost:"+s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully stops the web server, then the hubs.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)

	s.mu.Lock()
	cancel := s.cancelHubs
	s.mu.Unlock()
	if cancel == nil {
		return err
	}
	cancel()
	for _, h := range s.hubs() {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Server) hubs() []*hub.Hub {
	return []*hub.Hub{s.stateHub, s.frameHub, s.logHub}
}

func (s *Server) broadcastState(state panel.State) {
	if err := s.stateHub.BroadcastJSON(state); err != nil {
		s.logger.Warn("encode state failed", "error", err)
		return
	}
	s.statesSent.Add(1)
}

func (s *Server) broadcastFrame(f stream.Frame) {
	if s.frameHub.ClientCount() == 0 {
		return
	}
	s.frameHub.BroadcastBinary(f.Data)
	s.framesSent.Add(1)
}
