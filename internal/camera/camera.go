// Camera side acquisition driver for the chunked capture system.
// Wraps a V4L2 device and exposes it as a one-result-at-a-time grabber.

package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"camera_capture_system/internal/capture"
)

// Number of MMAP buffers queued in the driver.
const bufferCount = 4

// How long StopGrabbing waits for the stream loop to wind down by itself.
const stopTimeout = 2 * time.Second

// Options tune how the device is opened.
type Options struct {
	// PixelFormat requested from the device: MJPEG, YUYV or GREY.
	PixelFormat string
	// Serial overrides the identifier derived from the bus info.
	Serial string
	Logger *slog.Logger
}

// Camera represents the video capture device
type Camera struct {
	device      *device.Device
	path        string
	model       string
	serial      string
	pixelFormat v4l2.FourCCType
	logger      *slog.Logger

	width  int
	height int
	gain   capture.GainMode
	// gainHeld is set once a one-shot gain has been frozen.
	gainHeld bool

	cancel      context.CancelFunc
	frames      <-chan []byte
	maxResults  int
	delivered   int
	outstanding bool
	grabbing    bool
	closed      bool
}

var _ capture.Camera = (*Camera)(nil)

// Open opens the V4L2 device at path. Nothing is programmed until Configure.
func Open(path string, opts Options) (*Camera, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pixFmt, err := getPixelFormat(opts.PixelFormat)
	if err != nil {
		return nil, err
	}

	dev, err := device.Open(path,
		device.WithIOType(v4l2.IOTypeMMAP),
		device.WithBufferSize(bufferCount),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera device: %w", err)
	}

	caps := dev.Capability()
	serial := opts.Serial
	if serial == "" {
		serial = filenameSafe(caps.BusInfo)
	}

	c := &Camera{
		device:      dev,
		path:        path,
		model:       filenameSafe(caps.Card),
		serial:      serial,
		pixelFormat: pixFmt,
		logger:      logger.With("device", path),
	}
	c.logger.Info("camera opened", "model", c.model, "serial", c.serial, "driver", caps.Driver)
	return c, nil
}

func (c *Camera) Model() string  { return c.model }
func (c *Camera) Serial() string { return c.serial }

// Configure programs size, pixel format, frame rate, exposure and gain.
func (c *Camera) Configure(s capture.Settings) error {
	if err := c.device.SetPixFormat(v4l2.PixFormat{
		PixelFormat: c.pixelFormat,
		Width:       uint32(s.Width),
		Height:      uint32(s.Height),
		Field:       v4l2.FieldNone,
	}); err != nil {
		return fmt.Errorf("failed to set pixel format: %w", err)
	}

	// The driver may round the size to what the sensor supports.
	pix, err := c.device.GetPixFormat()
	if err != nil {
		return fmt.Errorf("failed to read pixel format: %w", err)
	}
	c.width, c.height = int(pix.Width), int(pix.Height)
	if c.width != s.Width || c.height != s.Height {
		c.logger.Warn("device adjusted frame size",
			"requested", fmt.Sprintf("%dx%d", s.Width, s.Height),
			"actual", fmt.Sprintf("%dx%d", c.width, c.height),
		)
	}

	if err := c.device.SetFrameRate(uint32(s.FrameRate)); err != nil {
		return fmt.Errorf("failed to set frame rate: %w", err)
	}
	if fps, err := c.device.GetFrameRate(); err == nil {
		c.logger.Info("image acquisition rate", "fps", fps)
	}

	for _, ctrl := range controlsFor(s) {
		if err := c.device.SetControlValue(ctrl.id, ctrl.value); err != nil {
			return fmt.Errorf("failed to set %s: %w", ctrl.name, err)
		}
	}
	c.gain = s.Gain
	c.gainHeld = false
	return nil
}

// StartGrabbing starts streaming. With maxResults > 0 grabbing ends after
// that many results have been retrieved.
func (c *Camera) StartGrabbing(maxResults int) error {
	if c.closed {
		return errors.New("camera: device closed")
	}
	if c.grabbing {
		return errors.New("camera: already grabbing")
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.device.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	c.cancel = cancel
	c.frames = c.device.GetOutput()
	c.maxResults = maxResults
	c.delivered = 0
	c.grabbing = true
	return nil
}

func (c *Camera) IsGrabbing() bool {
	if !c.grabbing {
		return false
	}
	return c.maxResults <= 0 || c.delivered < c.maxResults
}

// RetrieveResult waits up to timeout for the next buffer. An empty buffer is
// a failed grab, not an error.
func (c *Camera) RetrieveResult(timeout time.Duration) (capture.GrabResult, error) {
	if !c.grabbing {
		return nil, errors.New("camera: not grabbing")
	}
	if c.outstanding {
		return nil, errors.New("camera: previous grab result not released")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data, ok := <-c.frames:
		if !ok {
			c.grabbing = false
			return nil, errors.New("camera: frame stream closed")
		}
		c.delivered++
		c.outstanding = true
		res := &grabResult{
			cam: c,
			raw: capture.RawFrame{
				Data:   data,
				Width:  c.width,
				Height: c.height,
				Format: fourCCString(c.pixelFormat),
			},
		}
		if res.Succeeded() {
			c.holdGain()
		}
		return res, nil
	case <-timer.C:
		return nil, capture.ErrGrabTimeout
	}
}

// holdGain freezes a one-shot gain after the first good frame has let the
// auto gain converge.
func (c *Camera) holdGain() {
	if c.gain != capture.GainOnce || c.gainHeld {
		return
	}
	c.gainHeld = true
	if err := c.device.SetControlValue(v4l2.CtrlID(cidAutogain), 0); err != nil {
		c.logger.Warn("failed to hold gain", "error", err)
		return
	}
	c.logger.Debug("one-shot gain held")
}

// StopGrabbing is safe to call more than once. Cancelling the stream makes
// go4vl stop the device and close the output channel itself, so Stop is only
// called here when that does not happen in time.
func (c *Camera) StopGrabbing() error {
	c.grabbing = false
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.cancel = nil
	if drain(c.frames, stopTimeout) {
		return nil
	}
	c.logger.Warn("stream did not stop on cancel, stopping device")
	return c.device.Stop()
}

// drain discards buffered frames and reports whether frames was closed
// within timeout.
func drain(frames <-chan []byte, timeout time.Duration) bool {
	if frames == nil {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

// Release Camera Resources When Shutdown
func (c *Camera) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.device.Close()
}

type grabResult struct {
	cam      *Camera
	raw      capture.RawFrame
	released bool
}

func (r *grabResult) Succeeded() bool { return len(r.raw.Data) > 0 }

func (r *grabResult) Raw() capture.RawFrame { return r.raw }

func (r *grabResult) Release() {
	if r.released {
		return
	}
	r.released = true
	r.raw.Data = nil
	r.cam.outstanding = false
}
