package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"camera_capture_system/internal/capture"
)

// Writer is one open chunk file.
type Writer struct {
	writer *gocv.VideoWriter
	path   string
	size   image.Point
}

var _ capture.SinkOpener = OpenSink

// OpenSink opens a colour video file for spec. A writer that OpenCV could not
// open (bad codec, unwritable path) is an error.
func OpenSink(spec capture.SinkSpec) (capture.Sink, error) {
	if len(spec.Codec) != 4 {
		return nil, fmt.Errorf("vision: codec %q is not a fourcc", spec.Codec)
	}
	if spec.Size.X <= 0 || spec.Size.Y <= 0 {
		return nil, fmt.Errorf("vision: invalid video size %v", spec.Size)
	}
	vw, err := gocv.VideoWriterFile(spec.Path, spec.Codec, spec.FPS, spec.Size.X, spec.Size.Y, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open video writer %s: %w", spec.Path, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("video writer %s did not open with codec %s", spec.Path, spec.Codec)
	}
	return &Writer{writer: vw, path: spec.Path, size: spec.Size}, nil
}

// Write appends f. OpenCV drops frames whose size differs from the file, so
// those are resized to fit first.
func (w *Writer) Write(f capture.Frame) error {
	mat, err := matOf(f)
	if err != nil {
		return err
	}
	if f.Size() == w.size {
		return w.writer.Write(mat)
	}
	fitted := gocv.NewMat()
	defer fitted.Close()
	gocv.Resize(mat, &fitted, w.size, 0, 0, gocv.InterpolationLinear)
	return w.writer.Write(fitted)
}

func (w *Writer) Close() error {
	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("failed to close video writer %s: %w", w.path, err)
	}
	return nil
}
