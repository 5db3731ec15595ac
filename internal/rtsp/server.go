// Network preview of the capture session over RTSP.
// Frames are sent as RTP/JPEG (RFC 2435) so any player can watch the
// processed stream while it is being recorded.

package rtsp

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aler9/gortsplib/v2"
	"github.com/aler9/gortsplib/v2/pkg/base"
	"github.com/aler9/gortsplib/v2/pkg/format"
	"github.com/aler9/gortsplib/v2/pkg/formatdecenc/rtpmjpeg"
	"github.com/aler9/gortsplib/v2/pkg/media"
	"github.com/pion/rtp"

	"camera_capture_system/internal/capture"
)

// Config selects where the preview is served.
type Config struct {
	Port int
	// Path clients request, e.g. "stream" for rtsp://host:8554/stream.
	Path string
}

// Encoder turns a processed frame into a JPEG image of the given size.
type Encoder func(f capture.Frame, size image.Point) ([]byte, error)

// RTP/JPEG carries dimensions in units of 8 pixels, one byte each.
const (
	maxSide   = 2040
	blockSide = 8
)

// FitSize returns the largest size that keeps the aspect ratio of size,
// fits within 2040x2040 and has both sides a multiple of 8.
func FitSize(size image.Point) (image.Point, error) {
	if size.X <= 0 || size.Y <= 0 {
		return image.Point{}, fmt.Errorf("invalid frame size %v", size)
	}
	w, h := size.X, size.Y
	if w > maxSide || h > maxSide {
		if w >= h {
			w, h = maxSide, h*maxSide/w
		} else {
			w, h = w*maxSide/h, maxSide
		}
	}
	w -= w % blockSide
	h -= h % blockSide
	if w == 0 || h == 0 {
		return image.Point{}, fmt.Errorf("frame size %v too small for RTP/JPEG", size)
	}
	return image.Pt(w, h), nil
}

// Server publishes processed frames to RTSP readers.
type Server struct {
	server  *gortsplib.Server
	handler *handler
	encode  Encoder
	logger  *slog.Logger

	// Latest encoded image; older ones are dropped when the sender lags.
	images chan pending
	done   chan struct{}
	wg     sync.WaitGroup
	start  time.Time
	once   sync.Once
}

type pending struct {
	jpeg []byte
	pts  time.Duration
}

var _ capture.Publisher = (*Server)(nil)

// NewServer starts listening on cfg.Port.
func NewServer(cfg Config, encode Encoder, logger *slog.Logger) (*Server, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid RTSP port %d", cfg.Port)
	}
	logger = logger.With("component", "rtsp")
	logger.Debug("initializing RTSP server")

	h := newHandler(cfg.Path, logger)
	s := &Server{
		server: &gortsplib.Server{
			Handler:     h,
			RTSPAddress: ":" + strconv.Itoa(cfg.Port),
		},
		handler: h,
		encode:  encode,
		logger:  logger,
		images:  make(chan pending, 1),
		done:    make(chan struct{}),
		start:   time.Now(),
	}

	if err := s.server.Start(); err != nil {
		h.close()
		return nil, fmt.Errorf("failed to start RTSP server: %w", err)
	}
	s.wg.Add(1)
	go s.send()

	logger.Info("RTSP server running", "url", fmt.Sprintf("rtsp://0.0.0.0:%d/%s", cfg.Port, h.path))
	return s, nil
}

// Publish hands f to the sender. It never blocks the capture loop and does
// no work while nobody is watching.
func (s *Server) Publish(f capture.Frame) error {
	if !s.handler.watched() {
		return nil
	}
	size, err := FitSize(f.Size())
	if err != nil {
		return err
	}
	data, err := s.encode(f, size)
	if err != nil {
		return err
	}
	img := pending{jpeg: data, pts: time.Since(s.start)}
	select {
	case s.images <- img:
	default:
		// Replace the pending image with the newer one.
		select {
		case <-s.images:
		default:
		}
		select {
		case s.images <- img:
		default:
		}
	}
	return nil
}

func (s *Server) send() {
	defer s.wg.Done()

	enc := &rtpmjpeg.Encoder{}
	enc.Init()

	for {
		select {
		case <-s.done:
			return
		case img := <-s.images:
			pkts, err := enc.Encode(img.jpeg, img.pts)
			if err != nil {
				s.logger.Warn("failed to packetize frame", "error", err)
				continue
			}
			s.handler.write(pkts)
		}
	}
}

// Close stops the RTSP server. Safe to call more than once.
func (s *Server) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.server.Close()
		s.handler.close()
		s.logger.Debug("RTSP server stopped")
	})
	return nil
}

// handler implements the gortsplib server handler interfaces.
type handler struct {
	logger *slog.Logger
	path   string

	mu      sync.Mutex
	medi    *media.Media
	stream  *gortsplib.ServerStream
	playing map[*gortsplib.ServerSession]struct{}
}

func newHandler(path string, logger *slog.Logger) *handler {
	medi := &media.Media{
		Type:    media.TypeVideo,
		Formats: []format.Format{&format.MJPEG{}},
	}
	return &handler{
		logger:  logger,
		path:    strings.Trim(path, "/"),
		medi:    medi,
		stream:  gortsplib.NewServerStream(media.Medias{medi}),
		playing: make(map[*gortsplib.ServerSession]struct{}),
	}
}

func (h *handler) matches(path string) bool {
	return strings.Trim(path, "/") == h.path
}

func (h *handler) watched() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.playing) > 0
}

func (h *handler) write(pkts []*rtp.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream == nil {
		return
	}
	for _, pkt := range pkts {
		h.stream.WritePacketRTP(h.medi, pkt)
	}
}

func (h *handler) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream != nil {
		h.stream.Close()
		h.stream = nil
	}
}

func remoteAddr(conn *gortsplib.ServerConn) net.Addr {
	if conn == nil {
		return nil
	}
	return conn.NetConn().RemoteAddr()
}

// OnConnOpen implements gortsplib.ServerHandlerOnConnOpen.
func (h *handler) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	h.logger.Debug("connection opened", "remote", remoteAddr(ctx.Conn))
}

// OnConnClose implements gortsplib.ServerHandlerOnConnClose.
func (h *handler) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	h.logger.Debug("connection closed", "remote", remoteAddr(ctx.Conn), "error", ctx.Error)
}

// OnSessionClose implements gortsplib.ServerHandlerOnSessionClose.
func (h *handler) OnSessionClose(ctx *gortsplib.ServerHandlerOnSessionCloseCtx) {
	h.mu.Lock()
	delete(h.playing, ctx.Session)
	h.mu.Unlock()
}

// OnDescribe implements gortsplib.ServerHandlerOnDescribe.
func (h *handler) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	h.logger.Debug("DESCRIBE", "remote", remoteAddr(ctx.Conn), "path", ctx.Path)
	return h.lookup(ctx.Path)
}

// OnSetup implements gortsplib.ServerHandlerOnSetup.
func (h *handler) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	h.logger.Debug("SETUP", "remote", remoteAddr(ctx.Conn), "path", ctx.Path)
	return h.lookup(ctx.Path)
}

// OnPlay implements gortsplib.ServerHandlerOnPlay.
func (h *handler) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	h.logger.Info("client started playing", "remote", remoteAddr(ctx.Conn))
	h.mu.Lock()
	h.playing[ctx.Session] = struct{}{}
	h.mu.Unlock()
	return &base.Response{StatusCode: base.StatusOK}, nil
}

// OnPause implements gortsplib.ServerHandlerOnPause.
func (h *handler) OnPause(ctx *gortsplib.ServerHandlerOnPauseCtx) (*base.Response, error) {
	h.logger.Info("client paused", "remote", remoteAddr(ctx.Conn))
	h.mu.Lock()
	delete(h.playing, ctx.Session)
	h.mu.Unlock()
	return &base.Response{StatusCode: base.StatusOK}, nil
}

var errStreamClosed = errors.New("stream closed")

func (h *handler) lookup(path string) (*base.Response, *gortsplib.ServerStream, error) {
	if !h.matches(path) {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, fmt.Errorf("path not found: %s", path)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream == nil {
		return &base.Response{StatusCode: base.StatusServiceUnavailable}, nil, errStreamClosed
	}
	return &base.Response{StatusCode: base.StatusOK}, h.stream, nil
}
