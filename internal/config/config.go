// Package config deals with the settings of the capture program: defaults, an
// optional YAML file and command line flags, in that order of precedence.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"camera_capture_system/internal/capture"
)

type Config struct {
	// Camera settings
	Device      string `yaml:"device"`
	PixelFormat string `yaml:"pixel_format"`
	// Serial overrides the identifier read from the device.
	Serial    string `yaml:"serial"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	FrameRate int    `yaml:"frame_rate"`
	Exposure  int    `yaml:"exposure"`
	Gain      string `yaml:"gain"`

	// Recording settings
	OutputDir string  `yaml:"output_dir"`
	ChunkSize int     `yaml:"chunk_size"`
	Scale     float64 `yaml:"scale"`
	Codec     string  `yaml:"codec"`
	Extension string  `yaml:"extension"`
	WriterFPS float64 `yaml:"writer_fps"`
	// Duration in seconds, -1 for unbounded.
	Duration    int  `yaml:"duration"`
	ShowPreview bool `yaml:"show_preview"`

	RTSP RTSPConfig `yaml:"rtsp"`
	MQTT MQTTConfig `yaml:"mqtt"`
	Sync SyncConfig `yaml:"sync"`

	// General settings
	Verbose bool `yaml:"verbose"`
}

// RTSPConfig enables the network preview when Port is non-zero.
type RTSPConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// MQTTConfig enables event publishing when Broker is set.
type MQTTConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

// SyncConfig enables serial chunk markers when Port is set. Port may be "auto".
type SyncConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		Device:      "/dev/video0",
		PixelFormat: "MJPEG",
		Width:       2048,
		Height:      2048,
		FrameRate:   30,
		Exposure:    50000,
		Gain:        string(capture.GainContinuous),
		ChunkSize:   50000,
		Scale:       1.0,
		Codec:       "mp4v",
		Extension:   ".mp4",
		WriterFPS:   25,
		Duration:    -1,
		ShowPreview: true,
		RTSP: RTSPConfig{
			Path: "capture",
		},
		MQTT: MQTTConfig{
			Topic: "capture",
		},
		Sync: SyncConfig{
			BaudRate: 115200,
		},
	}
}

// Load reads a YAML file on top of the defaults. Keys missing from the file
// keep their default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Capture derives the session configuration. Call Validate first.
func (c *Config) Capture() (capture.Config, error) {
	gain, err := capture.ParseGainMode(c.Gain)
	if err != nil {
		return capture.Config{}, err
	}
	return capture.Config{
		OutputDir:   c.OutputDir,
		Width:       c.Width,
		Height:      c.Height,
		FrameRate:   c.FrameRate,
		ChunkSize:   c.ChunkSize,
		Scale:       c.Scale,
		Codec:       c.Codec,
		Exposure:    c.Exposure,
		Gain:        gain,
		ShowPreview: c.ShowPreview,
		Duration:    c.Duration,
		Extension:   c.Extension,
		WriterFPS:   c.WriterFPS,
	}, nil
}
