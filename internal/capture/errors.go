package capture

import (
	"errors"
	"fmt"
)

// ErrGrabTimeout is returned by cameras when no result arrives in time.
var ErrGrabTimeout = errors.New("capture: timed out waiting for grab result")

// FatalError ends a session without recovery. Op names the step that failed.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("capture: fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// StopReason tells why a session ended.
type StopReason int

const (
	StopNone StopReason = iota
	// StopEndOfStream means the camera stopped grabbing on its own.
	StopEndOfStream
	StopEscape
	StopDuration
	StopCanceled
	StopFatal
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopEndOfStream:
		return "end_of_stream"
	case StopEscape:
		return "escape"
	case StopDuration:
		return "duration"
	case StopCanceled:
		return "canceled"
	case StopFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
