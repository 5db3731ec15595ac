package capture

import (
	"errors"
	"image"
	"io"
	"log/slog"
	"time"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// callLog records calls across fakes so ordering can be asserted.
type callLog struct {
	calls []string
}

func (l *callLog) add(call string) { l.calls = append(l.calls, call) }

// fakeCamera replays a script of grab outcomes: true succeeds, false fails.
type fakeCamera struct {
	log    *callLog
	script []bool
	size   image.Point
	// ignoreMax keeps grabbing past the StartGrabbing budget.
	ignoreMax bool
	// timeoutAt makes the n-th retrieval time out; negative disables it.
	timeoutAt int

	settings    Settings
	max         int
	delivered   int
	released    int
	outstanding bool
	started     bool
	stopped     bool
	closed      bool
}

func newFakeCamera(log *callLog, script ...bool) *fakeCamera {
	return &fakeCamera{log: log, script: script, size: image.Pt(100, 60), timeoutAt: -1}
}

func allSucceed(n int) []bool {
	script := make([]bool, n)
	for i := range script {
		script[i] = true
	}
	return script
}

func (c *fakeCamera) Model() string  { return "acA2040-90um" }
func (c *fakeCamera) Serial() string { return "40012345" }

func (c *fakeCamera) Configure(s Settings) error {
	c.settings = s
	c.log.add("camera.configure")
	return nil
}

func (c *fakeCamera) StartGrabbing(max int) error {
	c.max = max
	c.started = true
	c.log.add("camera.start")
	return nil
}

func (c *fakeCamera) IsGrabbing() bool {
	if !c.started || c.stopped || c.closed {
		return false
	}
	if !c.ignoreMax && c.max > 0 && c.delivered >= c.max {
		return false
	}
	return c.delivered < len(c.script)
}

func (c *fakeCamera) RetrieveResult(time.Duration) (GrabResult, error) {
	if c.outstanding {
		return nil, errors.New("previous result not released")
	}
	if c.delivered == c.timeoutAt {
		return nil, ErrGrabTimeout
	}
	ok := c.script[c.delivered]
	c.delivered++
	c.outstanding = true
	return &fakeResult{cam: c, ok: ok}, nil
}

func (c *fakeCamera) StopGrabbing() error {
	c.stopped = true
	c.log.add("camera.stop")
	return nil
}

func (c *fakeCamera) Close() error {
	c.closed = true
	c.log.add("camera.close")
	return nil
}

type fakeResult struct {
	cam *fakeCamera
	ok  bool
}

func (r *fakeResult) Succeeded() bool { return r.ok }

func (r *fakeResult) Raw() RawFrame {
	return RawFrame{Width: r.cam.size.X, Height: r.cam.size.Y, Format: "BGR3"}
}

func (r *fakeResult) Release() {
	r.cam.outstanding = false
	r.cam.released++
}

type fakeFrame struct {
	size    image.Point
	blank   bool
	stamped bool
	open    *int
}

func (f *fakeFrame) Size() image.Point { return f.size }

func (f *fakeFrame) Close() error {
	*f.open--
	return nil
}

// fakeProcessor tracks how many frames are alive to catch leaks.
type fakeProcessor struct {
	open   int
	scales int
	stamps int
}

func (p *fakeProcessor) newFrame(size image.Point, blank bool) *fakeFrame {
	p.open++
	return &fakeFrame{size: size, blank: blank, open: &p.open}
}

func (p *fakeProcessor) Convert(raw RawFrame) (Frame, error) {
	return p.newFrame(image.Pt(raw.Width, raw.Height), false), nil
}

func (p *fakeProcessor) Scale(f Frame, factor float64) (Frame, error) {
	p.scales++
	scaled := p.newFrame(ScaledSize(f.Size(), factor), false)
	f.Close()
	return scaled, nil
}

func (p *fakeProcessor) Stamp(f Frame, at time.Time) error {
	p.stamps++
	f.(*fakeFrame).stamped = true
	return nil
}

func (p *fakeProcessor) Blank(size image.Point) (Frame, error) {
	return p.newFrame(size, true), nil
}

type writtenFrame struct {
	size    image.Point
	blank   bool
	stamped bool
}

type fakeSink struct {
	spec   SinkSpec
	log    *callLog
	frames []writtenFrame
	closed bool
}

func (s *fakeSink) Write(f Frame) error {
	ff := f.(*fakeFrame)
	s.frames = append(s.frames, writtenFrame{size: ff.size, blank: ff.blank, stamped: ff.stamped})
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	s.log.add("sink.close")
	return nil
}

type sinkRecorder struct {
	log   *callLog
	sinks []*fakeSink
}

func (r *sinkRecorder) open(spec SinkSpec) (Sink, error) {
	s := &fakeSink{spec: spec, log: r.log}
	r.sinks = append(r.sinks, s)
	return s, nil
}

// fakePreview returns keys[n] on the n-th Show call, -1 otherwise.
type fakePreview struct {
	log    *callLog
	title  string
	keys   map[int]int
	shown  int
	closed bool
}

func (p *fakePreview) Show(Frame) (int, error) {
	n := p.shown
	p.shown++
	if k, ok := p.keys[n]; ok {
		return k, nil
	}
	return -1, nil
}

func (p *fakePreview) Close() error {
	p.closed = true
	p.log.add("preview.close")
	return nil
}

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) Notify(ev Event) { r.events = append(r.events, ev) }

func fixedClock() time.Time {
	return time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
}

func testConfig() Config {
	return Config{
		OutputDir: "/data/rec",
		Width:     100,
		Height:    60,
		FrameRate: 10,
		ChunkSize: 50000,
		Scale:     1,
		Codec:     "mp4v",
		Exposure:  50000,
		Gain:      GainContinuous,
		Duration:  -1,
		Extension: ".mp4",
		WriterFPS: 25,
	}
}
