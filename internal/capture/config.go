package capture

import (
	"fmt"
	"image"
	"math"
)

// GainMode selects how the camera drives its analog gain.
type GainMode string

const (
	GainOnce       GainMode = "Once"
	GainContinuous GainMode = "Continuous"
	GainOff        GainMode = "Off"
)

// ParseGainMode accepts the three mode names exactly as the camera exposes them.
func ParseGainMode(s string) (GainMode, error) {
	switch GainMode(s) {
	case GainOnce, GainContinuous, GainOff:
		return GainMode(s), nil
	default:
		return "", fmt.Errorf("invalid gain mode %q, must be one of Once, Continuous, Off", s)
	}
}

// Config is the immutable description of one capture session.
type Config struct {
	// OutputDir is where chunk files go. Empty disables recording.
	OutputDir string
	Width     int
	Height    int
	FrameRate int
	// ChunkSize is the number of frames per output file.
	ChunkSize int
	// Scale resizes every frame by the same factor on both axes.
	Scale    float64
	Codec    string
	Exposure int
	Gain     GainMode
	// ShowPreview opens a live window; pressing escape in it ends the session.
	ShowPreview bool
	// Duration in seconds. Zero or negative means unbounded.
	Duration  int
	Extension string
	// WriterFPS is the frame rate written into the video container, independent
	// of the acquisition rate.
	WriterFPS float64
}

// Recording reports whether frames are written to disk.
func (c Config) Recording() bool {
	return c.OutputDir != ""
}

// FramesToGrab is the acquisition budget handed to the camera; 0 means unbounded.
func (c Config) FramesToGrab() int {
	if c.Duration > 0 {
		return c.FrameRate * c.Duration
	}
	return 0
}

// OutputSize is the frame size after scaling, which is also the encoder size.
func (c Config) OutputSize() image.Point {
	return ScaledSize(image.Pt(c.Width, c.Height), c.Scale)
}

// DeviceSettings extracts what has to be programmed into the camera.
func (c Config) DeviceSettings() Settings {
	return Settings{
		Width:     c.Width,
		Height:    c.Height,
		FrameRate: c.FrameRate,
		Exposure:  c.Exposure,
		Gain:      c.Gain,
	}
}

// ScaledSize rounds each axis to the nearest pixel, the way the resize does.
func ScaledSize(size image.Point, scale float64) image.Point {
	return image.Pt(
		int(math.Round(float64(size.X)*scale)),
		int(math.Round(float64(size.Y)*scale)),
	)
}
