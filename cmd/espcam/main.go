// espcam: web control panel for an ESP32-CAM style camera
// Polls stills, forwards them to an optional detection service, and serves
// the panel with live state and frames over websockets
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-espcam/internal/config"
	"github.com/teslashibe/go-espcam/internal/log"
	"github.com/teslashibe/go-espcam/pkg/camera"
	"github.com/teslashibe/go-espcam/pkg/detection"
	"github.com/teslashibe/go-espcam/pkg/overlay"
	"github.com/teslashibe/go-espcam/pkg/panel"
	"github.com/teslashibe/go-espcam/pkg/stream"
	"github.com/teslashibe/go-espcam/pkg/web"
)

var version = "1.0.0"

func main() {
	if err := run(); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "espcam: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	log.Init(cfg.LogLevel)
	logger := log.L()
	mainLog := log.Component("main")

	mainLog.Info("starting espcam",
		"version", version,
		"device", cfg.DeviceURL,
		"detector", cfg.DetectorURL,
		"interval", cfg.PollInterval,
	)

	device := camera.NewClient(cfg.DeviceURL, camera.WithLogger(logger))

	var (
		detector *detection.Client
		det      stream.Detector
		saver    panel.Saver
		webOpts  = []web.Option{
			web.WithPort(cfg.Port),
			web.WithVersion(version),
			web.WithRequestLog(cfg.LogLevel == "debug"),
			web.WithLogger(logger),
		}
	)
	if cfg.DetectionEnabled() {
		detector, err = detection.NewClient(
			detection.WithBaseURL(cfg.DetectorURL),
			detection.WithToken(cfg.DetectorToken),
			detection.WithMinConfidence(cfg.MinConfidence),
			detection.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		defer detector.Close()

		det = detector
		webOpts = append(webOpts, web.WithDetector(detector))
		if cfg.SaveCaptures {
			saver = detector
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := detector.Health(ctx); err != nil {
			mainLog.Warn("detection service not reachable yet", "error", err)
		}
		cancel()
	}

	poller := stream.New(device, det,
		stream.WithInterval(cfg.PollInterval),
		stream.WithSettleDelay(cfg.SettleDelay),
		stream.WithLogger(logger),
	)

	p := panel.New(camera.NewManager(device), device, poller, saver,
		panel.WithReference(overlay.Reference{Width: cfg.RefWidth, Height: cfg.RefHeight}),
		panel.WithStatusTTL(cfg.StatusTTL),
		panel.WithLogger(logger),
	)
	defer p.Close()

	server := web.NewServer(p, webOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- server.Run(ctx)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	mainLog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLog.Error("shutdown error", "error", err)
	}

	mainLog.Info("goodbye")
	return nil
}
