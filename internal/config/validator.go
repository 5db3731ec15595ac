package config

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"camera_capture_system/internal/capture"
)

// Validate checks if the configuration is valid. Every problem found is
// reported, not just the first.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Device != "", "device is required")
	check(c.Width > 0, "width must be > 0, got %d", c.Width)
	check(c.Height > 0, "height must be > 0, got %d", c.Height)
	check(c.FrameRate > 0, "frame_rate must be > 0, got %d", c.FrameRate)
	check(c.Exposure > 0, "exposure must be > 0, got %d", c.Exposure)
	if _, err := capture.ParseGainMode(c.Gain); err != nil {
		errs = append(errs, err)
	}

	check(c.ChunkSize > 0, "chunk_size must be > 0, got %d", c.ChunkSize)
	check(c.Scale > 0, "scale must be > 0, got %g", c.Scale)
	check(len(c.Codec) == 4, "codec must be a four character code, got %q", c.Codec)
	check(strings.HasPrefix(c.Extension, ".") && len(c.Extension) > 1,
		"extension must start with '.', got %q", c.Extension)
	check(c.WriterFPS > 0, "writer_fps must be > 0, got %g", c.WriterFPS)
	if c.Scale > 0 && c.Width > 0 && c.Height > 0 {
		out := capture.ScaledSize(image.Pt(c.Width, c.Height), c.Scale)
		check(out.X > 0 && out.Y > 0, "scale %g shrinks %dx%d to nothing", c.Scale, c.Width, c.Height)
	}

	check(c.RTSP.Port >= 0 && c.RTSP.Port <= 65535, "rtsp.port must be within 0-65535, got %d", c.RTSP.Port)
	check(c.RTSP.Port == 0 || strings.Trim(c.RTSP.Path, "/") != "", "rtsp.path is required when rtsp.port is set")
	check(c.MQTT.Broker == "" || c.MQTT.Topic != "", "mqtt.topic is required when mqtt.broker is set")
	check(c.Sync.Port == "" || c.Sync.BaudRate > 0, "sync.baud_rate must be > 0, got %d", c.Sync.BaudRate)

	return errors.Join(errs...)
}
