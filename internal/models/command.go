package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// CommandRecord is the immutable history entry written after every command
// execution attempt, whether it came from a touch display or a voice
// utterance. It doubles as the idempotency-replay table: a record is looked
// up by IdempotencyKey before a command runs.
type CommandRecord struct {
	gorm.Model
	IdempotencyKey string    `json:"idempotency_key" gorm:"unique_index"`
	Action         string    `json:"action"`
	Target         string    `json:"target"`
	ActorID        string    `json:"actor_id"`
	Role           string    `json:"role"`
	Source         string    `json:"source"` // "touch" or "voice"
	Transcript     string    `json:"transcript"`
	Confidence     float64   `json:"confidence"`
	Success        bool      `json:"success"`
	AffectedCount  int       `json:"affected_count"`
	Feedback       string    `json:"feedback"`
	ErrorsJSON     string    `json:"errors_json"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// Command sources.
const (
	SourceTouch = "touch"
	SourceVoice = "voice"
)
