package camera

import (
	"testing"

	"github.com/vladimirvivien/go4vl/v4l2"

	"camera_capture_system/internal/capture"
)

func TestControlsFor(t *testing.T) {
	tests := []struct {
		gain         capture.GainMode
		wantAutogain v4l2.CtrlValue
	}{
		{capture.GainContinuous, 1},
		{capture.GainOnce, 1},
		{capture.GainOff, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.gain), func(t *testing.T) {
			ctrls := controlsFor(capture.Settings{Exposure: 50000, Gain: tt.gain})
			if len(ctrls) != 3 {
				t.Fatalf("got %d controls, want 3", len(ctrls))
			}
			if ctrls[0].id != cidExposureAuto || ctrls[0].value != exposureManual {
				t.Errorf("exposure mode control = %+v", ctrls[0])
			}
			if ctrls[1].id != cidExposureAbsolute || ctrls[1].value != 50000 {
				t.Errorf("exposure time control = %+v", ctrls[1])
			}
			if ctrls[2].id != cidAutogain || ctrls[2].value != tt.wantAutogain {
				t.Errorf("gain control = %+v, want autogain %d", ctrls[2], tt.wantAutogain)
			}
		})
	}
}

func TestGetPixelFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "MJPG"},
		{"mjpeg", "MJPG"},
		{"YUYV", "YUYV"},
		{"GREY", "GREY"},
	}
	for _, tt := range tests {
		f, err := getPixelFormat(tt.in)
		if err != nil {
			t.Fatalf("getPixelFormat(%q): %v", tt.in, err)
		}
		if got := fourCCString(f); got != tt.want {
			t.Errorf("getPixelFormat(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := getPixelFormat("H264"); err == nil {
		t.Error("H264 accepted")
	}
}

func TestFilenameSafe(t *testing.T) {
	tests := map[string]string{
		"HD Pro Webcam C920":      "HD_Pro_Webcam_C920",
		"usb-0000:00:14.0-1":      "usb-0000_00_14.0-1",
		"  acA2040-90um ":         "acA2040-90um",
		"":                        "unknown",
		"platform:bcm2835-isp/v1": "platform_bcm2835-isp_v1",
	}
	for in, want := range tests {
		if got := filenameSafe(in); got != want {
			t.Errorf("filenameSafe(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGrabResult_Release(t *testing.T) {
	c := &Camera{outstanding: true}
	r := &grabResult{cam: c, raw: capture.RawFrame{Data: []byte{1, 2, 3}}}
	if !r.Succeeded() {
		t.Fatal("non-empty buffer reported as failed grab")
	}
	r.Release()
	r.Release()
	if c.outstanding {
		t.Error("camera still has an outstanding result")
	}
	if r.raw.Data != nil {
		t.Error("buffer kept after release")
	}

	empty := &grabResult{cam: c}
	if empty.Succeeded() {
		t.Error("empty buffer reported as successful grab")
	}
}
