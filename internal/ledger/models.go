// Package ledger is the durable record of ingestion jobs. Every state
// transition is persisted here before any caller observes it, so a job
// always reaches a terminal, recorded state even across process restarts.
package ledger

import (
	"time"

	"bookforge/internal/book"
)

// State is one step of a job's lifecycle.
type State string

const (
	StateQueued     State = "queued"
	StateConverting State = "converting"
	StateEnriching  State = "enriching"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Failure reasons recorded in ErrorMessage for operator-driven outcomes.
const (
	ReasonCancelled = "cancelled"
	ReasonTimeout   = "timeout"
)

// validTransitions encodes the forward-only state machine. Leaving failed is
// only possible via an explicit retry request, never automatically.
var validTransitions = map[State][]State{
	StateQueued:     {StateConverting, StateFailed},
	StateConverting: {StateEnriching, StateCompleted, StateFailed},
	StateEnriching:  {StateCompleted, StateFailed},
	StateFailed:     {StateConverting, StateEnriching},
	StateCompleted:  {},
}

// ValidTransition reports whether moving from one state to another is legal.
func ValidTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state ends automatic progression.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is the tracked unit of ingestion work for one document.
type Job struct {
	ID             string         `json:"job_id"`
	Fingerprint    string         `json:"fingerprint"`
	State          State          `json:"state"`
	Format         string         `json:"format"`
	Filename       string         `json:"filename,omitempty"`
	Title          string         `json:"title,omitempty"`
	EnrichEnabled  bool           `json:"enrich_enabled"`
	Sections       []book.Section `json:"sections,omitempty"`
	ErrorMessage   string         `json:"error,omitempty"`
	FailedSections []int          `json:"failed_sections,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Book assembles the job's stored sections into a Book.
func (j *Job) Book() *book.Book {
	return &book.Book{Title: j.Title, Sections: j.Sections}
}
