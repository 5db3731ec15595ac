package capture

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	fileTimestampLayout    = "20060102_150405"
	overlayTimestampLayout = "20060102 15:04:05"
)

// ChunkState is the per-session bookkeeping of the loop.
type ChunkState struct {
	// Chunk is the index of the next chunk to open once Rotate is set, or of the
	// current chunk otherwise.
	Chunk int
	// Frame counts every grab attempt of the session.
	Frame int
	// Rotate asks for a new output file at the next successful grab.
	Rotate bool
}

// Advance counts one grab attempt and schedules a rotation on every chunk
// boundary. It reports whether a rotation was scheduled.
func (s *ChunkState) Advance(chunkSize int) bool {
	s.Frame++
	if s.Frame%chunkSize != 0 {
		return false
	}
	s.Rotate = true
	s.Chunk++
	return true
}

// ChunkName builds the file name of one chunk:
//
//	<chunk:06d>_<model>_<serial>_exp<exposure>_r<framerate>_res<scale>_<YYYYMMDD_HHMMSS><ext>
//
// with '-' in the model name replaced by '_'.
func ChunkName(cfg Config, chunk int, model, serial string, at time.Time) string {
	return fmt.Sprintf("%06d_%s_%s_exp%d_r%d_res%s_%s%s",
		chunk,
		strings.ReplaceAll(model, "-", "_"),
		serial,
		cfg.Exposure,
		cfg.FrameRate,
		strconv.FormatFloat(cfg.Scale, 'f', -1, 64),
		at.Format(fileTimestampLayout),
		cfg.Extension,
	)
}

// OverlayText is the timestamp burnt into frames.
func OverlayText(at time.Time) string {
	return at.Format(overlayTimestampLayout)
}

// PreviewTitle is the preview window title for a camera.
func PreviewTitle(serial string) string {
	return "Capture " + serial
}
