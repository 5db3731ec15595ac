package camera

import (
	"fmt"
	"strings"

	"github.com/vladimirvivien/go4vl/v4l2"

	"camera_capture_system/internal/capture"
)

// V4L2 control IDs, see linux/v4l2-controls.h.
const (
	cidAutogain         = 0x00980912 // V4L2_CID_AUTOGAIN
	cidExposureAuto     = 0x009a0901 // V4L2_CID_EXPOSURE_AUTO
	cidExposureAbsolute = 0x009a0902 // V4L2_CID_EXPOSURE_ABSOLUTE

	exposureManual = 1 // V4L2_EXPOSURE_MANUAL
)

type control struct {
	name  string
	id    v4l2.CtrlID
	value v4l2.CtrlValue
}

// controlsFor lists the controls written by Configure, in order. Exposure is
// switched to manual before the absolute value is set.
func controlsFor(s capture.Settings) []control {
	autogain := v4l2.CtrlValue(1)
	if s.Gain == capture.GainOff {
		autogain = 0
	}
	return []control{
		{"exposure mode", v4l2.CtrlID(cidExposureAuto), exposureManual},
		{"exposure time", v4l2.CtrlID(cidExposureAbsolute), v4l2.CtrlValue(s.Exposure)},
		// Once starts in auto and is frozen after the first good frame.
		{"gain mode", v4l2.CtrlID(cidAutogain), autogain},
	}
}

// getPixelFormat converts string format to V4L2 pixel format
func getPixelFormat(format string) (v4l2.FourCCType, error) {
	switch strings.ToUpper(format) {
	case "", "MJPEG", "MJPG":
		return v4l2.PixelFmtMJPEG, nil
	case "YUYV":
		return v4l2.PixelFmtYUYV, nil
	case "GREY", "GRAY":
		return v4l2.PixelFmtGrey, nil
	default:
		return 0, fmt.Errorf("unsupported pixel format %q, must be MJPEG, YUYV or GREY", format)
	}
}

// fourCCString renders a little-endian FourCC such as "MJPG".
func fourCCString(f v4l2.FourCCType) string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// filenameSafe maps anything outside [A-Za-z0-9._-] to '_' so device strings
// can go into chunk file names.
func filenameSafe(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
