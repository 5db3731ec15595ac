package events

import (
	"log/slog"

	"camera_capture_system/internal/capture"
)

// LogObserver writes every lifecycle event to the log.
type LogObserver struct {
	logger *slog.Logger
}

var _ capture.Observer = (*LogObserver)(nil)

func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) Notify(ev capture.Event) {
	attrs := []any{"kind", ev.Kind, "session", ev.Session, "chunk", ev.Chunk, "frame", ev.Frame}
	if ev.Path != "" {
		attrs = append(attrs, "path", ev.Path)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	o.logger.Debug("session event", attrs...)
}
