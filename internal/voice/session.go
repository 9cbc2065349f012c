package voice

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SessionState names the stages of one voice interaction.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateRecording    SessionState = "recording"
	StateTranscribing SessionState = "transcribing"
	StateParsing      SessionState = "parsing"
	StateExecuting    SessionState = "executing"
)

// validNext encodes the session state machine. Every stage advances or
// returns to idle; there are no other edges.
var validNext = map[SessionState][]SessionState{
	StateIdle:         {StateRecording},
	StateRecording:    {StateTranscribing, StateIdle},
	StateTranscribing: {StateParsing, StateIdle},
	StateParsing:      {StateExecuting, StateIdle},
	StateExecuting:    {StateIdle},
}

// Session tracks one utterance through the pipeline. Cancellation is
// honored at any point before executing; once executing begins the
// operation runs to completion and reports its outcome.
type Session struct {
	ID string

	mu        sync.Mutex
	state     SessionState
	cancelled bool
}

// NewSession starts an idle session.
func NewSession() *Session {
	return &Session{ID: uuid.NewString(), state: StateIdle}
}

// State returns the current stage.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Advance moves to the next stage. It fails if the edge is not in the
// machine, and reports cancellation instead of entering executing when the
// session was cancelled earlier.
func (s *Session) Advance(next SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled && next == StateExecuting {
		return fmt.Errorf("session %s cancelled", s.ID)
	}
	for _, allowed := range validNext[s.state] {
		if allowed == next {
			s.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", s.state, next)
}

// Cancel aborts the session unless execution has already begun.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateExecuting {
		return fmt.Errorf("session %s is executing and can no longer be cancelled", s.ID)
	}
	s.cancelled = true
	s.state = StateIdle
	return nil
}

// Cancelled reports whether Cancel was called.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Finish returns the session to idle after the pipeline completes.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
}
