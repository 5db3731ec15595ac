package events

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"camera_capture_system/internal/capture"
)

// AutoPort asks OpenSerialMarker to pick the first USB serial port.
const AutoPort = "auto"

const defaultBaudRate = 115200

// SerialMarker writes one line per opened chunk to a serial port so external
// recorders can align to chunk boundaries:
//
//	CHUNK <session> <index> <file>
type SerialMarker struct {
	mu     sync.Mutex
	port   io.WriteCloser
	name   string
	logger *slog.Logger
}

var _ capture.Observer = (*SerialMarker)(nil)

// OpenSerialMarker opens portName, or the first USB port when it is AutoPort.
func OpenSerialMarker(portName string, baudRate int, logger *slog.Logger) (*SerialMarker, error) {
	if portName == AutoPort {
		ports, err := enumerator.GetDetailedPortsList()
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
		}
		portName = pickPort(ports)
		if portName == "" {
			return nil, errors.New("no USB serial port found")
		}
	}
	if baudRate <= 0 {
		baudRate = defaultBaudRate
	}

	p, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return newSerialMarker(p, portName, logger), nil
}

func newSerialMarker(w io.WriteCloser, name string, logger *slog.Logger) *SerialMarker {
	m := &SerialMarker{
		port:   w,
		name:   name,
		logger: logger.With("component", "sync", "port", name),
	}
	m.logger.Info("sync marker port opened")
	return m
}

func pickPort(ports []*enumerator.PortDetails) string {
	for _, port := range ports {
		if port.IsUSB {
			return port.Name
		}
	}
	return ""
}

// Notify writes a marker line for every opened chunk.
func (m *SerialMarker) Notify(ev capture.Event) {
	if ev.Kind != capture.EventChunkOpened {
		return
	}
	line := fmt.Sprintf("CHUNK %s %d %s\n", ev.Session, ev.Chunk, filepath.Base(ev.Path))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == nil {
		return
	}
	if _, err := io.WriteString(m.port, line); err != nil {
		m.logger.Warn("failed to write sync marker", "chunk", ev.Chunk, "error", err)
	}
}

func (m *SerialMarker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == nil {
		return nil
	}
	err := m.port.Close()
	m.port = nil
	return err
}
