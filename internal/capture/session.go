package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// RetrieveTimeout bounds the wait for each grab result.
const RetrieveTimeout = 5000 * time.Millisecond

const lowDiskSpace = 1 << 30

// Deps are the collaborators of a Session. Camera and Frames are required,
// OpenSink when recording and OpenPreview when the preview is shown.
type Deps struct {
	Camera      Camera
	Frames      FrameProcessor
	OpenSink    SinkOpener
	OpenPreview PreviewOpener
	Publishers  []Publisher
	Observers   []Observer
	Logger      *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// FreeSpace, when set, is probed each time a chunk is opened.
	FreeSpace func(dir string) (uint64, error)
}

// Session is the chunked acquisition loop. It owns the camera, the open sink
// and the preview for its whole life; a Session runs once.
type Session struct {
	cfg  Config
	deps Deps
	id   string
	log  *slog.Logger

	state     ChunkState
	grabbing  bool
	sink      Sink
	sinkPath  string
	sinkChunk int
	preview   Preview
	lastSize  image.Point
	closed    bool
	summary   Summary
}

// NewSession validates cfg against deps. The camera must already be open.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if deps.Camera == nil {
		return nil, errors.New("capture: camera is required")
	}
	if deps.Frames == nil {
		return nil, errors.New("capture: frame processor is required")
	}
	if cfg.Recording() && deps.OpenSink == nil {
		return nil, errors.New("capture: sink opener is required when recording")
	}
	if cfg.ShowPreview && deps.OpenPreview == nil {
		return nil, errors.New("capture: preview opener is required when preview is enabled")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("capture: invalid chunk size %d", cfg.ChunkSize)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	id := uuid.NewString()
	return &Session{
		cfg:     cfg,
		deps:    deps,
		id:      id,
		log:     deps.Logger.With("session", id, "serial", deps.Camera.Serial()),
		summary: Summary{Session: id},
	}, nil
}

// ID identifies the session in logs and events.
func (s *Session) ID() string {
	return s.id
}

// Run acquires until the camera stops grabbing, escape is pressed in the
// preview, the duration is reached or ctx is cancelled. Graceful stops return a
// nil error; a failed grab retrieval returns a *FatalError. The camera, sink
// and preview are closed on every path.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	if s.closed {
		return s.summary, errors.New("capture: session already ran")
	}
	if err := s.initialize(); err != nil {
		return s.finish(StopFatal, err)
	}

	for s.deps.Camera.IsGrabbing() {
		reason, err := s.iterate(ctx)
		if err != nil {
			return s.finish(StopFatal, err)
		}
		if reason != StopNone {
			return s.finish(reason, nil)
		}
	}
	return s.finish(StopEndOfStream, nil)
}

func (s *Session) initialize() error {
	cam := s.deps.Camera
	if err := cam.Configure(s.cfg.DeviceSettings()); err != nil {
		return &FatalError{Op: "configure camera", Err: err}
	}
	s.log.Info("camera configured",
		"model", cam.Model(),
		"width", s.cfg.Width,
		"height", s.cfg.Height,
		"frame_rate", s.cfg.FrameRate,
		"exposure", s.cfg.Exposure,
		"gain", s.cfg.Gain,
	)

	if s.cfg.ShowPreview {
		p, err := s.deps.OpenPreview(PreviewTitle(cam.Serial()))
		if err != nil {
			return &FatalError{Op: "open preview", Err: err}
		}
		s.preview = p
	}

	toGrab := s.cfg.FramesToGrab()
	if err := cam.StartGrabbing(toGrab); err != nil {
		return &FatalError{Op: "start grabbing", Err: err}
	}
	s.grabbing = true
	s.log.Info("grabbing started", "frames_to_grab", toGrab)
	s.notify(Event{Kind: EventSessionStarted, Chunk: s.state.Chunk})

	if s.cfg.Recording() {
		if err := s.openChunk(); err != nil {
			return err
		}
	}
	return nil
}

// iterate handles exactly one grab result.
func (s *Session) iterate(ctx context.Context) (StopReason, error) {
	if ctx.Err() != nil {
		return StopCanceled, nil
	}

	res, err := s.deps.Camera.RetrieveResult(RetrieveTimeout)
	if err != nil {
		return StopNone, &FatalError{Op: "retrieve result", Err: err}
	}
	s.summary.Frames++

	var reason StopReason
	if res.Succeeded() {
		reason, err = s.handleSuccess(res.Raw())
	} else {
		reason = s.handleFailure()
	}
	res.Release()
	if err != nil || reason != StopNone {
		return reason, err
	}

	if s.state.Advance(s.cfg.ChunkSize) {
		s.log.Debug("chunk rotation scheduled", "frame", s.state.Frame, "chunk", s.state.Chunk)
	}
	return StopNone, nil
}

func (s *Session) handleSuccess(raw RawFrame) (StopReason, error) {
	if s.state.Rotate {
		if s.cfg.Recording() {
			if err := s.closeChunk(); err != nil {
				s.log.Warn("failed to close chunk", "path", s.sinkPath, "error", err)
			}
			if err := s.openChunk(); err != nil {
				return StopNone, err
			}
		}
		s.state.Rotate = false
	}

	frame, err := s.render(raw)
	if err != nil {
		s.log.Warn("frame conversion failed", "frame", s.state.Frame, "error", err)
		return s.handleFailure(), nil
	}
	defer frame.Close()
	s.lastSize = frame.Size()

	if s.cfg.Recording() {
		s.write(frame)
	}
	for _, p := range s.deps.Publishers {
		if err := p.Publish(frame); err != nil {
			s.log.Debug("publish failed", "error", err)
		}
	}

	if s.preview != nil {
		key, err := s.preview.Show(frame)
		if err != nil {
			s.log.Warn("preview failed", "error", err)
		}
		if key == EscapeKey {
			s.log.Info("escape pressed", "frame", s.state.Frame)
			return StopEscape, nil
		}
	}

	if s.durationReached() {
		return StopDuration, nil
	}
	s.log.Debug("frame", "index", s.state.Frame, "width", s.lastSize.X, "height", s.lastSize.Y)
	return StopNone, nil
}

// render converts, scales and timestamps one grab.
func (s *Session) render(raw RawFrame) (Frame, error) {
	frame, err := s.deps.Frames.Convert(raw)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	if s.cfg.Scale != 1 {
		frame, err = s.deps.Frames.Scale(frame, s.cfg.Scale)
		if err != nil {
			return nil, fmt.Errorf("scale: %w", err)
		}
	}
	if err := s.deps.Frames.Stamp(frame, s.deps.Now()); err != nil {
		frame.Close()
		return nil, fmt.Errorf("stamp: %w", err)
	}
	return frame, nil
}

// handleFailure keeps the output timeline continuous with a placeholder frame.
func (s *Session) handleFailure() StopReason {
	s.summary.FailedGrabs++
	if s.cfg.Recording() {
		size := s.lastSize
		if size == (image.Point{}) {
			size = s.cfg.OutputSize()
		}
		blank, err := s.deps.Frames.Blank(size)
		if err != nil {
			s.log.Warn("failed to create placeholder frame", "error", err)
		} else {
			s.write(blank)
			blank.Close()
			s.summary.Placeholders++
		}
	}

	if s.durationReached() {
		return StopDuration
	}
	s.log.Info("grab result unsuccessful", "frame", s.state.Frame)
	return StopNone
}

func (s *Session) durationReached() bool {
	return s.cfg.Duration > 0 && s.state.Frame >= s.cfg.Duration*s.cfg.FrameRate
}

func (s *Session) write(frame Frame) {
	if err := s.sink.Write(frame); err != nil {
		s.summary.WriteErrors++
		s.log.Warn("failed to write frame", "path", s.sinkPath, "frame", s.state.Frame, "error", err)
	}
}

func (s *Session) openChunk() error {
	cam := s.deps.Camera
	name := ChunkName(s.cfg, s.state.Chunk, cam.Model(), cam.Serial(), s.deps.Now())
	path := filepath.Join(s.cfg.OutputDir, name)

	sink, err := s.deps.OpenSink(SinkSpec{
		Path:  path,
		Codec: s.cfg.Codec,
		FPS:   s.cfg.WriterFPS,
		Size:  s.cfg.OutputSize(),
	})
	if err != nil {
		return &FatalError{Op: "open chunk " + path, Err: err}
	}
	s.sink = sink
	s.sinkPath = path
	s.sinkChunk = s.state.Chunk
	s.summary.Chunks = append(s.summary.Chunks, path)

	attrs := []any{"path", path, "chunk", s.state.Chunk}
	if s.deps.FreeSpace != nil {
		if free, err := s.deps.FreeSpace(s.cfg.OutputDir); err == nil {
			attrs = append(attrs, "free", humanize.IBytes(free))
			if free < lowDiskSpace {
				s.log.Warn("low disk space", "dir", s.cfg.OutputDir, "free", humanize.IBytes(free))
			}
		}
	}
	s.log.Info("output file", attrs...)
	s.notify(Event{Kind: EventChunkOpened, Chunk: s.sinkChunk, Path: path})
	return nil
}

func (s *Session) closeChunk() error {
	if s.sink == nil {
		return nil
	}
	err := s.sink.Close()
	s.notify(Event{Kind: EventChunkClosed, Chunk: s.sinkChunk, Path: s.sinkPath})
	s.sink = nil
	return err
}

// shutdown stops acquisition, closes the device, flushes the sink and closes
// the preview, in that order. Every step runs even when an earlier one fails.
func (s *Session) shutdown() error {
	var errs []error
	cam := s.deps.Camera
	if s.grabbing {
		if err := cam.StopGrabbing(); err != nil {
			errs = append(errs, fmt.Errorf("stop grabbing: %w", err))
		}
		s.grabbing = false
	}
	if err := cam.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera: %w", err))
	}
	if err := s.closeChunk(); err != nil {
		errs = append(errs, fmt.Errorf("close chunk: %w", err))
	}
	if s.preview != nil {
		if err := s.preview.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close preview: %w", err))
		}
		s.preview = nil
	}
	for _, p := range s.deps.Publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) finish(reason StopReason, cause error) (Summary, error) {
	s.closed = true
	s.summary.Reason = reason
	cleanupErr := s.shutdown()
	s.notify(Event{Kind: EventSessionFinished, Chunk: s.sinkChunk, Reason: reason.String()})

	if cause != nil {
		s.log.Error("capture aborted", "frames", s.summary.Frames, "error", cause)
		return s.summary, errors.Join(cause, cleanupErr)
	}
	s.log.Info("finished recording",
		"reason", reason,
		"frames", s.summary.Frames,
		"failed_grabs", s.summary.FailedGrabs,
		"chunks", len(s.summary.Chunks),
	)
	if cleanupErr != nil {
		return s.summary, fmt.Errorf("capture: shutdown: %w", cleanupErr)
	}
	return s.summary, nil
}

func (s *Session) notify(ev Event) {
	ev.Session = s.id
	ev.Serial = s.deps.Camera.Serial()
	ev.Frame = s.state.Frame
	ev.Time = s.deps.Now()
	for _, o := range s.deps.Observers {
		o.Notify(ev)
	}
}
