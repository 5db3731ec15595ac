package vision

import (
	"gocv.io/x/gocv"

	"camera_capture_system/internal/capture"
)

// Window is the resizable live preview.
type Window struct {
	win *gocv.Window
}

var _ capture.PreviewOpener = OpenWindow

func OpenWindow(title string) (capture.Preview, error) {
	w := gocv.NewWindow(title)
	w.SetWindowProperty(gocv.WindowPropertyAutosize, gocv.WindowNormal)
	return &Window{win: w}, nil
}

// Show displays f and polls the keyboard for 1 ms.
func (w *Window) Show(f capture.Frame) (int, error) {
	mat, err := matOf(f)
	if err != nil {
		return -1, err
	}
	w.win.IMShow(mat)
	return w.win.WaitKey(1), nil
}

func (w *Window) Close() error {
	return w.win.Close()
}
