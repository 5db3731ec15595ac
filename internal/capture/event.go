package capture

import "time"

type EventKind string

const (
	EventSessionStarted  EventKind = "session_started"
	EventChunkOpened     EventKind = "chunk_opened"
	EventChunkClosed     EventKind = "chunk_closed"
	EventSessionFinished EventKind = "session_finished"
)

// Event is a lifecycle notification sent to observers.
type Event struct {
	Kind    EventKind `json:"kind"`
	Session string    `json:"session"`
	Serial  string    `json:"serial"`
	Chunk   int       `json:"chunk"`
	Path    string    `json:"path,omitempty"`
	Frame   int       `json:"frame"`
	Reason  string    `json:"reason,omitempty"`
	Time    time.Time `json:"time"`
}

// Summary is what a finished session reports.
type Summary struct {
	Session string
	Reason  StopReason
	// Frames is the number of grab results handled, successful or not.
	Frames       int
	FailedGrabs  int
	Placeholders int
	WriteErrors  int
	// Chunks lists the files opened, in order.
	Chunks []string
}
