package vision

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"camera_capture_system/internal/capture"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 0}

// Image is a BGR 8-bit frame backed by an OpenCV matrix.
type Image struct {
	mat gocv.Mat
}

// NewImage takes ownership of mat.
func NewImage(mat gocv.Mat) *Image {
	return &Image{mat: mat}
}

func (i *Image) Size() image.Point { return image.Pt(i.mat.Cols(), i.mat.Rows()) }

func (i *Image) Close() error { return i.mat.Close() }

// Mat exposes the underlying matrix without transferring ownership.
func (i *Image) Mat() gocv.Mat { return i.mat }

func matOf(f capture.Frame) (gocv.Mat, error) {
	img, ok := f.(*Image)
	if !ok {
		return gocv.Mat{}, fmt.Errorf("vision: unsupported frame type %T", f)
	}
	return img.mat, nil
}

// Processor converts device buffers to BGR frames and draws on them.
type Processor struct{}

var _ capture.FrameProcessor = (*Processor)(nil)

func NewProcessor() *Processor {
	return &Processor{}
}

// Convert decodes raw into BGR 8-bit, whatever the device format.
func (p *Processor) Convert(raw capture.RawFrame) (capture.Frame, error) {
	switch raw.Format {
	case "MJPG", "JPEG":
		mat, err := gocv.IMDecode(raw.Data, gocv.IMReadColor)
		if err != nil {
			return nil, fmt.Errorf("failed to decode jpeg: %w", err)
		}
		if mat.Empty() {
			mat.Close()
			return nil, fmt.Errorf("failed to decode jpeg: empty image from %d bytes", len(raw.Data))
		}
		return NewImage(mat), nil
	case "YUYV":
		return convertPacked(raw, 2, gocv.MatTypeCV8UC2, gocv.ColorYUVToBGRYUY2)
	case "GREY":
		return convertPacked(raw, 1, gocv.MatTypeCV8UC1, gocv.ColorGrayToBGR)
	case "BGR3":
		src, err := packedMat(raw, 3, gocv.MatTypeCV8UC3)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		return NewImage(src.Clone()), nil
	default:
		return nil, fmt.Errorf("vision: unsupported pixel format %q", raw.Format)
	}
}

func packedMat(raw capture.RawFrame, bytesPerPixel int, mt gocv.MatType) (gocv.Mat, error) {
	want := raw.Width * raw.Height * bytesPerPixel
	if raw.Width <= 0 || raw.Height <= 0 || len(raw.Data) < want {
		return gocv.Mat{}, fmt.Errorf("vision: %s buffer of %d bytes too short for %dx%d",
			raw.Format, len(raw.Data), raw.Width, raw.Height)
	}
	return gocv.NewMatFromBytes(raw.Height, raw.Width, mt, raw.Data[:want])
}

func convertPacked(raw capture.RawFrame, bytesPerPixel int, mt gocv.MatType, code gocv.ColorConversionCode) (capture.Frame, error) {
	src, err := packedMat(raw, bytesPerPixel, mt)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, code)
	return NewImage(dst), nil
}

// Scale resizes by factor on both axes and closes f.
func (p *Processor) Scale(f capture.Frame, factor float64) (capture.Frame, error) {
	defer f.Close()
	src, err := matOf(f)
	if err != nil {
		return nil, err
	}
	dst := gocv.NewMat()
	gocv.Resize(src, &dst, image.Point{}, factor, factor, gocv.InterpolationLinear)
	return NewImage(dst), nil
}

// Stamp writes the timestamp 15px from the left and 20px above the bottom.
func (p *Processor) Stamp(f capture.Frame, at time.Time) error {
	mat, err := matOf(f)
	if err != nil {
		return err
	}
	gocv.PutTextWithParams(&mat, capture.OverlayText(at), image.Pt(15, mat.Rows()-20),
		gocv.FontHersheySimplex, 1, white, 2, gocv.LineAA, false)
	return nil
}

// Blank returns an all-white BGR frame.
func (p *Processor) Blank(size image.Point) (capture.Frame, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("vision: invalid blank frame size %v", size)
	}
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), size.Y, size.X, gocv.MatTypeCV8UC3)
	return NewImage(mat), nil
}

// EncodeJPEG compresses a frame for network publishing, resized to size
// first when it differs from the frame.
func EncodeJPEG(f capture.Frame, size image.Point) ([]byte, error) {
	mat, err := matOf(f)
	if err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("vision: invalid jpeg size %v", size)
	}
	if f.Size() != size {
		fitted := gocv.NewMat()
		defer fitted.Close()
		gocv.Resize(mat, &fitted, size, 0, 0, gocv.InterpolationArea)
		mat = fitted
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
