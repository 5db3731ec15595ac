// Main program for the chunked camera capture system.
// Acquires frames from a V4L2 camera, stamps and scales them, and records
// them into fixed-size video chunks with an optional live preview.
// It is licensed under the MIT License.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"camera_capture_system/internal/camera"
	"camera_capture_system/internal/capture"
	"camera_capture_system/internal/config"
	"camera_capture_system/internal/events"
	"camera_capture_system/internal/rtsp"
	"camera_capture_system/internal/storage"
	"camera_capture_system/internal/vision"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(os.Args[0], args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// Set up logger
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	// Cancel on SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := record(ctx, cfg, logger); err != nil {
		logger.Error("capture failed", "error", err)
		return 1
	}
	return 0
}

func record(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	captureCfg, err := cfg.Capture()
	if err != nil {
		return err
	}
	if captureCfg.Recording() {
		if err := storage.Prepare(captureCfg.OutputDir); err != nil {
			return err
		}
	}

	// Initialize camera; the session closes it on every path from here on.
	cam, err := camera.Open(cfg.Device, camera.Options{
		PixelFormat: cfg.PixelFormat,
		Serial:      cfg.Serial,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize camera: %w", err)
	}

	deps := capture.Deps{
		Camera:      cam,
		Frames:      vision.NewProcessor(),
		OpenSink:    vision.OpenSink,
		OpenPreview: vision.OpenWindow,
		Logger:      logger,
		FreeSpace:   storage.FreeBytes,
		Observers:   []capture.Observer{events.NewLogObserver(logger)},
	}

	closeAll := func() {
		for _, p := range deps.Publishers {
			p.Close()
		}
		cam.Close()
	}

	if cfg.RTSP.Port > 0 {
		server, err := rtsp.NewServer(rtsp.Config{Port: cfg.RTSP.Port, Path: cfg.RTSP.Path}, vision.EncodeJPEG, logger)
		if err != nil {
			closeAll()
			return err
		}
		deps.Publishers = append(deps.Publishers, server)
	}

	if cfg.MQTT.Broker != "" {
		emitter := events.NewMQTTEmitter(events.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: "camera-capture-" + cam.Serial(),
		}, logger)
		// Events are best effort; an unreachable broker does not stop recording.
		if err := emitter.Connect(ctx); err != nil {
			logger.Warn("mqtt unavailable, continuing without events", "error", err)
		}
		defer emitter.Disconnect()
		deps.Observers = append(deps.Observers, emitter)
	}

	if cfg.Sync.Port != "" {
		marker, err := events.OpenSerialMarker(cfg.Sync.Port, cfg.Sync.BaudRate, logger)
		if err != nil {
			closeAll()
			return err
		}
		defer marker.Close()
		deps.Observers = append(deps.Observers, marker)
	}

	session, err := capture.NewSession(captureCfg, deps)
	if err != nil {
		closeAll()
		return err
	}

	summary, err := session.Run(ctx)
	logger.Info("capture finished",
		"session", summary.Session,
		"reason", summary.Reason,
		"frames", summary.Frames,
		"failed_grabs", summary.FailedGrabs,
		"chunks", len(summary.Chunks),
	)
	return err
}
