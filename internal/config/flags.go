package config

import (
	"flag"
	"fmt"
	"io"
)

// BindFlags registers every setting on fs, writing into cfg.
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	// Short single-purpose names are what existing recording scripts pass.
	fs.StringVar(&cfg.OutputDir, "o", cfg.OutputDir, "Output directory for video chunks (empty disables recording)")
	fs.IntVar(&cfg.Width, "wo", cfg.Width, "Width of the acquired image")
	fs.IntVar(&cfg.Height, "ho", cfg.Height, "Height of the acquired image")
	fs.IntVar(&cfg.FrameRate, "r", cfg.FrameRate, "Acquisition frame rate")
	fs.IntVar(&cfg.ChunkSize, "c", cfg.ChunkSize, "Number of frames per video chunk")
	fs.Float64Var(&cfg.Scale, "sc", cfg.Scale, "Scaling factor applied to every frame")
	fs.StringVar(&cfg.Codec, "cc", cfg.Codec, "FourCC codec of the video chunks")
	fs.IntVar(&cfg.Exposure, "exp", cfg.Exposure, "Exposure time in device units")
	fs.StringVar(&cfg.Gain, "gs", cfg.Gain, "Gain mode: Once, Continuous or Off")
	fs.BoolVar(&cfg.ShowPreview, "s", cfg.ShowPreview, "Show the live preview window")
	fs.IntVar(&cfg.Duration, "t", cfg.Duration, "Acquisition duration in seconds, -1 for unbounded")
	fs.StringVar(&cfg.Extension, "f", cfg.Extension, "File extension of the video chunks")

	fs.StringVar(&cfg.Device, "device", cfg.Device, "Path to the camera device")
	fs.StringVar(&cfg.PixelFormat, "pixel-format", cfg.PixelFormat, "Pixel format of the camera stream: MJPEG, YUYV or GREY")
	fs.StringVar(&cfg.Serial, "serial", cfg.Serial, "Camera serial used in file names (default: device bus info)")
	fs.Float64Var(&cfg.WriterFPS, "writer-fps", cfg.WriterFPS, "Frame rate written into the video container")
	fs.IntVar(&cfg.RTSP.Port, "rtsp-port", cfg.RTSP.Port, "RTSP port for the network preview (0 disables it)")
	fs.StringVar(&cfg.RTSP.Path, "stream-path", cfg.RTSP.Path, "RTSP stream path")
	fs.StringVar(&cfg.MQTT.Broker, "mqtt-broker", cfg.MQTT.Broker, "MQTT broker for session events, host:port")
	fs.StringVar(&cfg.MQTT.Topic, "mqtt-topic", cfg.MQTT.Topic, "MQTT topic prefix for session events")
	fs.StringVar(&cfg.Sync.Port, "sync-port", cfg.Sync.Port, "Serial port for chunk sync markers, or auto")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
}

// Parse builds the configuration from command line arguments. With -config
// the file is loaded over the defaults and flags given explicitly still win.
// The result is validated.
func Parse(name string, args []string, output io.Writer) (*Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	path := fs.String("config", "", "YAML configuration file")
	BindFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if *path != "" {
		fileCfg, err := Load(*path)
		if err != nil {
			return nil, err
		}
		if err := overrideExplicit(fs, fileCfg); err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overrideExplicit replays the flags that were set on the command line onto
// cfg.
func overrideExplicit(parsed *flag.FlagSet, cfg *Config) error {
	over := flag.NewFlagSet("overrides", flag.ContinueOnError)
	over.SetOutput(io.Discard)
	BindFlags(over, cfg)

	var err error
	parsed.Visit(func(f *flag.Flag) {
		if err != nil || over.Lookup(f.Name) == nil {
			return
		}
		if setErr := over.Set(f.Name, f.Value.String()); setErr != nil {
			err = fmt.Errorf("flag -%s: %w", f.Name, setErr)
		}
	})
	return err
}
