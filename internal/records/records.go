// Package records defines the workflow record, its checkpoint history, and the
// status state machine every persisted transition must follow.
package records

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a workflow record.
type Status string

const (
	StatusReceived      Status = "received"
	StatusProcessing    Status = "processing"
	StatusPendingReview Status = "pending_review"
	StatusFinalized     Status = "finalized"
	StatusError         Status = "error"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusProcessing, StatusPendingReview, StatusFinalized, StatusError:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusReceived:      {StatusProcessing},
	StatusProcessing:    {StatusProcessing, StatusPendingReview, StatusFinalized, StatusError},
	StatusPendingReview: {StatusProcessing, StatusError},
}

// CanTransition reports whether from -> to is an edge of the state machine.
// processing -> processing covers intermediate steps that leave status unchanged.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Step names a pipeline step or an external action recorded in history.
type Step string

const (
	StepSubmit   Step = "submit"
	StepIntake   Step = "intake"
	StepExtract  Step = "extract"
	StepValidate Step = "validate"
	StepReview   Step = "review"
	StepApprove  Step = "approve"
	StepFinalize Step = "finalize"
	StepReject   Step = "reject"
)

// HistoryEntry is one append-only audit line.
type HistoryEntry struct {
	Sequence  int       `json:"sequence"`
	Step      Step      `json:"step"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is the durable state of one submitted document.
//
// Version is the sequence number of the latest committed checkpoint and is
// always len(History)-1. StepCursor names the last step whose checkpoint
// committed.
type Record struct {
	ID                uuid.UUID      `json:"id"`
	Content           string         `json:"content"`
	Status            Status         `json:"status"`
	ExtractedData     map[string]any `json:"extracted_data"`
	ValidationReasons []string       `json:"validation_reasons"`
	History           []HistoryEntry `json:"history"`
	StepCursor        Step           `json:"step_cursor"`
	Version           int            `json:"version"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// New returns a received record with its submission history entry.
func New(id uuid.UUID, content string, now time.Time) *Record {
	return &Record{
		ID:                id,
		Content:           content,
		Status:            StatusReceived,
		ExtractedData:     map[string]any{},
		ValidationReasons: []string{},
		History: []HistoryEntry{{
			Sequence:  0,
			Step:      StepSubmit,
			Status:    StatusReceived,
			Timestamp: now,
		}},
		StepCursor: StepSubmit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy. Nested values inside ExtractedData are shared;
// they are treated as immutable once extracted.
func (r *Record) Clone() *Record {
	c := *r
	c.ExtractedData = maps.Clone(r.ExtractedData)
	if c.ExtractedData == nil {
		c.ExtractedData = map[string]any{}
	}
	c.ValidationReasons = slices.Clone(r.ValidationReasons)
	if c.ValidationReasons == nil {
		c.ValidationReasons = []string{}
	}
	c.History = slices.Clone(r.History)
	return &c
}

// Merge overwrites extracted fields with corrections field by field.
// Fields absent from corrections are retained.
func (r *Record) Merge(corrections map[string]any) {
	if r.ExtractedData == nil {
		r.ExtractedData = make(map[string]any, len(corrections))
	}
	maps.Copy(r.ExtractedData, corrections)
}

// Advance appends a history entry for step, moves the record to status, and
// bumps Version. The caller persists the result as the next checkpoint.
func (r *Record) Advance(step Step, status Status, detail string, now time.Time) {
	r.Version++
	r.Status = status
	r.StepCursor = step
	r.UpdatedAt = now
	r.History = append(r.History, HistoryEntry{
		Sequence:  r.Version,
		Step:      step,
		Status:    status,
		Detail:    detail,
		Timestamp: now,
	})
}

// Last returns the most recent history entry.
func (r *Record) Last() HistoryEntry {
	if len(r.History) == 0 {
		return HistoryEntry{}
	}
	return r.History[len(r.History)-1]
}

// Projection is the externally visible status view of a record.
type Projection struct {
	ID                uuid.UUID      `json:"id"`
	Status            Status         `json:"status"`
	ExtractedData     map[string]any `json:"extracted_data"`
	ValidationReasons []string       `json:"validation_reasons"`
	History           []HistoryEntry `json:"history"`
	StepCursor        Step           `json:"step_cursor"`
	Error             string         `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Project returns the status projection of r.
func (r *Record) Project() Projection {
	c := r.Clone()
	return Projection{
		ID:                c.ID,
		Status:            c.Status,
		ExtractedData:     c.ExtractedData,
		ValidationReasons: c.ValidationReasons,
		History:           c.History,
		StepCursor:        c.StepCursor,
		Error:             c.Error,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// Checkpoint is an immutable snapshot of a record taken when a step commits.
type Checkpoint struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Sequence   int       `json:"sequence"`
	Step       Step      `json:"step"`
	Status     Status    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Snapshot   Record    `json:"snapshot"`
}

// CheckpointOf captures the checkpoint for r's latest history entry.
func CheckpointOf(r *Record) Checkpoint {
	last := r.Last()
	return Checkpoint{
		WorkflowID: r.ID,
		Sequence:   last.Sequence,
		Step:       last.Step,
		Status:     last.Status,
		Detail:     last.Detail,
		Timestamp:  last.Timestamp,
		Snapshot:   *r.Clone(),
	}
}
