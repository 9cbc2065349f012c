// Package audit appends an analytics trail of executed commands and anomaly
// resolutions. The core only ever writes here; nothing reads it back.
package audit

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"expediter/internal/models"
)

// Sink is the write-only audit surface.
type Sink interface {
	Command(rec *models.CommandRecord)
	Resolution(a *models.Anomaly)
}

// FileSink appends JSON lines to a writer, one entry per event.
type FileSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewFileSink opens (or creates) the audit file in append mode.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{out: f}, nil
}

// NewWriterSink wraps an arbitrary writer, used by tests.
func NewWriterSink(w io.Writer) *FileSink {
	return &FileSink{out: w}
}

type entry struct {
	At   time.Time   `json:"at"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (s *FileSink) append(kind string, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := json.NewEncoder(s.out).Encode(entry{At: time.Now(), Type: kind, Data: data}); err != nil {
		// Audit is best-effort; a failed append never blocks a command.
		log.Printf("audit: append failed: %v", err)
	}
}

func (s *FileSink) Command(rec *models.CommandRecord) { s.append("command", rec) }
func (s *FileSink) Resolution(a *models.Anomaly)      { s.append("resolution", a) }

// Discard is a Sink that drops everything, for wiring without an audit file.
type Discard struct{}

func (Discard) Command(*models.CommandRecord) {}
func (Discard) Resolution(*models.Anomaly)    {}
