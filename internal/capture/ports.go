package capture

import (
	"image"
	"time"
)

// Settings are the acquisition parameters applied to the device before grabbing.
type Settings struct {
	Width     int
	Height    int
	FrameRate int
	Exposure  int
	Gain      GainMode
}

// Camera is the acquisition device driven by a Session.
//
// Grabbing is strictly one result at a time: a result must be released before
// the next one is retrieved.
type Camera interface {
	Model() string
	Serial() string
	Configure(Settings) error
	// StartGrabbing starts acquisition. When maxResults > 0 grabbing ends on its
	// own after that many results.
	StartGrabbing(maxResults int) error
	IsGrabbing() bool
	RetrieveResult(timeout time.Duration) (GrabResult, error)
	StopGrabbing() error
	Close() error
}

// RawFrame is the undecoded buffer of a grab, in the device pixel format.
type RawFrame struct {
	Data   []byte
	Width  int
	Height int
	// Format is the V4L2 FourCC of Data, e.g. "MJPG" or "YUYV".
	Format string
}

// GrabResult is a scoped acquisition result.
type GrabResult interface {
	Succeeded() bool
	Raw() RawFrame
	Release()
}

// Frame is a processed BGR image owned by whoever produced it until Close.
type Frame interface {
	Size() image.Point
	Close() error
}

// FrameProcessor turns grabs into displayable frames.
type FrameProcessor interface {
	// Convert decodes raw into an interleaved BGR 8-bit frame.
	Convert(raw RawFrame) (Frame, error)
	// Scale resizes f by factor on both axes. It takes ownership of f.
	Scale(f Frame, factor float64) (Frame, error)
	// Stamp burns the timestamp into the bottom-left corner of f.
	Stamp(f Frame, at time.Time) error
	// Blank returns a white frame of the given size.
	Blank(size image.Point) (Frame, error)
}

// SinkSpec describes the video file opened for one chunk.
type SinkSpec struct {
	Path  string
	Codec string
	FPS   float64
	Size  image.Point
}

// Sink is the open video writer of the current chunk.
type Sink interface {
	Write(Frame) error
	Close() error
}

type SinkOpener func(SinkSpec) (Sink, error)

// Preview is the live window. Show returns the key pressed while the frame was
// displayed, or -1.
type Preview interface {
	Show(Frame) (int, error)
	Close() error
}

type PreviewOpener func(title string) (Preview, error)

// EscapeKey ends the session when pressed in the preview window.
const EscapeKey = 27

// Publisher receives every processed frame, e.g. a network preview.
type Publisher interface {
	Publish(Frame) error
	Close() error
}

// Observer is told about session and chunk lifecycle events.
type Observer interface {
	Notify(Event)
}
