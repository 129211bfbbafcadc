package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationStatus is the lifecycle state of a GenerationItem
type GenerationStatus string

const (
	GenerationStatusQueued     GenerationStatus = "queued"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
	GenerationStatusCancelled  GenerationStatus = "cancelled"
)

// IsTerminal reports whether no further automatic transition occurs from this status
func (s GenerationStatus) IsTerminal() bool {
	switch s {
	case GenerationStatusCompleted, GenerationStatusFailed, GenerationStatusCancelled:
		return true
	}
	return false
}

// GenerationItem is the unit of work processed by the generation queue.
//
// Invariants:
//   - ArtifactPath is set iff Status == completed
//   - Error is set iff Status == failed
//   - RetryCount never decreases
type GenerationItem struct {
	ID           string           `json:"id" badgerhold:"key"`
	Prompt       string           `json:"prompt"`
	Status       GenerationStatus `json:"status" badgerholdIndex:"Status"`
	Sequence     int64            `json:"sequence"` // Insertion order, used to restore FIFO ordering
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	ArtifactPath string           `json:"artifact_path,omitempty"`
	Error        string           `json:"error,omitempty"`
	RetryCount   int              `json:"retry_count"`
}

// NewGenerationItem creates a queued item for prompt
func NewGenerationItem(prompt string, sequence int64) *GenerationItem {
	return &GenerationItem{
		ID:        "gen_" + uuid.New().String(),
		Prompt:    prompt,
		Status:    GenerationStatusQueued,
		Sequence:  sequence,
		CreatedAt: time.Now(),
	}
}

// Clone returns a copy that shares no pointers with the receiver
func (i *GenerationItem) Clone() GenerationItem {
	c := *i
	if i.StartedAt != nil {
		t := *i.StartedAt
		c.StartedAt = &t
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// Duration returns the processing time for started items
func (i *GenerationItem) Duration() time.Duration {
	if i.StartedAt == nil {
		return 0
	}
	if i.CompletedAt == nil {
		return time.Since(*i.StartedAt)
	}
	return i.CompletedAt.Sub(*i.StartedAt)
}
