package vision

import (
	"bytes"
	"image"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"camera_capture_system/internal/capture"
)

type foreignFrame struct{}

func (foreignFrame) Size() image.Point { return image.Pt(1, 1) }
func (foreignFrame) Close() error      { return nil }

func TestBlank(t *testing.T) {
	p := NewProcessor()
	f, err := p.Blank(image.Pt(64, 48))
	if err != nil {
		t.Fatalf("Blank: %v", err)
	}
	defer f.Close()

	if got := f.Size(); got != image.Pt(64, 48) {
		t.Errorf("Size = %v, want (64,48)", got)
	}
	mat := f.(*Image).Mat()
	if mat.Type() != gocv.MatTypeCV8UC3 {
		t.Errorf("type = %v, want CV8UC3", mat.Type())
	}
	px := mat.GetVecbAt(10, 10)
	if px[0] != 255 || px[1] != 255 || px[2] != 255 {
		t.Errorf("pixel = %v, want white", px)
	}

	if _, err := p.Blank(image.Pt(0, 10)); err == nil {
		t.Error("zero width accepted")
	}
}

func TestConvert(t *testing.T) {
	p := NewProcessor()
	tests := []struct {
		format string
		bpp    int
	}{
		{"GREY", 1},
		{"YUYV", 2},
		{"BGR3", 3},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			raw := capture.RawFrame{
				Data:   bytes.Repeat([]byte{128}, 32*16*tt.bpp),
				Width:  32,
				Height: 16,
				Format: tt.format,
			}
			f, err := p.Convert(raw)
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			defer f.Close()
			if got := f.Size(); got != image.Pt(32, 16) {
				t.Errorf("Size = %v, want (32,16)", got)
			}
			mat := f.(*Image).Mat()
			if ch := mat.Channels(); ch != 3 {
				t.Fatalf("channels = %d, want 3", ch)
			}
			// Mid grey in every format, including neutral chroma for YUYV.
			for i, v := range mat.GetVecbAt(8, 8) {
				if v < 124 || v > 132 {
					t.Errorf("channel %d = %d, want about 128", i, v)
				}
			}
		})
	}
}

func TestConvert_Rejects(t *testing.T) {
	p := NewProcessor()
	tests := []struct {
		name string
		raw  capture.RawFrame
	}{
		{"short buffer", capture.RawFrame{Data: make([]byte, 10), Width: 32, Height: 16, Format: "YUYV"}},
		{"unknown format", capture.RawFrame{Data: make([]byte, 512), Width: 32, Height: 16, Format: "H264"}},
		{"corrupt jpeg", capture.RawFrame{Data: []byte{0xff, 0xd8, 0x00}, Width: 32, Height: 16, Format: "MJPG"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if f, err := p.Convert(tt.raw); err == nil {
				f.Close()
				t.Error("Convert succeeded")
			}
		})
	}
}

func TestScale(t *testing.T) {
	p := NewProcessor()
	tests := []struct {
		factor float64
		want   image.Point
	}{
		{0.5, image.Pt(50, 30)},
		{0.3, image.Pt(30, 18)},
		{2, image.Pt(200, 120)},
	}
	for _, tt := range tests {
		src, err := p.Blank(image.Pt(100, 60))
		if err != nil {
			t.Fatalf("Blank: %v", err)
		}
		dst, err := p.Scale(src, tt.factor)
		if err != nil {
			t.Fatalf("Scale(%v): %v", tt.factor, err)
		}
		if got := dst.Size(); got != tt.want {
			t.Errorf("Scale(%v) size = %v, want %v", tt.factor, got, tt.want)
		}
		if got := capture.ScaledSize(image.Pt(100, 60), tt.factor); got != tt.want {
			t.Errorf("ScaledSize(%v) = %v, disagrees with resize %v", tt.factor, got, tt.want)
		}
		dst.Close()
	}
}

func TestStamp(t *testing.T) {
	p := NewProcessor()
	f, err := p.Blank(image.Pt(400, 100))
	if err != nil {
		t.Fatalf("Blank: %v", err)
	}
	defer f.Close()

	// Turn the frame black so the white text is visible.
	mat := f.(*Image).Mat()
	mat.SetTo(gocv.NewScalar(0, 0, 0, 0))

	if err := p.Stamp(f, time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)); err != nil {
		t.Fatalf("Stamp: %v", err)
	}
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	if gocv.CountNonZero(gray) == 0 {
		t.Error("no text drawn")
	}

	if err := p.Stamp(foreignFrame{}, time.Now()); err == nil {
		t.Error("Stamp accepted a foreign frame")
	}
}

func TestEncodeJPEG(t *testing.T) {
	p := NewProcessor()
	f, err := p.Blank(image.Pt(100, 60))
	if err != nil {
		t.Fatalf("Blank: %v", err)
	}
	defer f.Close()

	tests := []struct {
		name string
		size image.Point
	}{
		{"native size", image.Pt(100, 60)},
		{"shrunk to fit", image.Pt(96, 56)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeJPEG(f, tt.size)
			if err != nil {
				t.Fatalf("EncodeJPEG: %v", err)
			}
			if len(data) < 4 || data[0] != 0xff || data[1] != 0xd8 {
				t.Fatalf("not a jpeg: % x", data[:min(4, len(data))])
			}
			back, err := p.Convert(capture.RawFrame{Data: data, Format: "MJPG"})
			if err != nil {
				t.Fatalf("Convert encoded jpeg: %v", err)
			}
			defer back.Close()
			if got := back.Size(); got != tt.size {
				t.Errorf("decoded size = %v, want %v", got, tt.size)
			}
		})
	}
	if got := f.Size(); got != image.Pt(100, 60) {
		t.Errorf("source frame resized to %v", got)
	}
	if _, err := EncodeJPEG(f, image.Point{}); err == nil {
		t.Error("empty size accepted")
	}
}

func TestOpenSink(t *testing.T) {
	dir := t.TempDir()
	if _, err := OpenSink(capture.SinkSpec{Path: filepath.Join(dir, "a.avi"), Codec: "MJPEGX", FPS: 25, Size: image.Pt(64, 48)}); err == nil {
		t.Error("five letter codec accepted")
	}

	sink, err := OpenSink(capture.SinkSpec{Path: filepath.Join(dir, "a.avi"), Codec: "MJPG", FPS: 25, Size: image.Pt(64, 48)})
	if err != nil {
		t.Skipf("MJPG writer unavailable in this OpenCV build: %v", err)
	}
	p := NewProcessor()
	for _, size := range []image.Point{image.Pt(64, 48), image.Pt(32, 24)} {
		f, err := p.Blank(size)
		if err != nil {
			t.Fatalf("Blank: %v", err)
		}
		if err := sink.Write(f); err != nil {
			t.Errorf("Write %v: %v", size, err)
		}
		f.Close()
	}
	if err := sink.Write(foreignFrame{}); err == nil {
		t.Error("Write accepted a foreign frame")
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
