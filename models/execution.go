package models

import (
	"encoding/json"
	"time"
)

type ExecutionKind string

const (
	ExecutionKindListing ExecutionKind = "listing"
	ExecutionKindReport  ExecutionKind = "report"
)

// ExecutionState is the internal state machine position of one workflow run.
type ExecutionState string

const (
	// Listing workflow.
	StateReceived   ExecutionState = "RECEIVED"
	StateValidating ExecutionState = "VALIDATING"
	StatePreparing  ExecutionState = "PREPARING"
	StateStoring    ExecutionState = "STORING"
	StateRelocating ExecutionState = "RELOCATING"

	// Report workflow.
	StateRequested    ExecutionState = "REQUESTED"
	StateSynthesizing ExecutionState = "SYNTHESIZING"
	StateRendering    ExecutionState = "RENDERING"
	StateArchiving    ExecutionState = "ARCHIVING"

	// Shared.
	StateNotifying ExecutionState = "NOTIFYING"
	StateSucceeded ExecutionState = "SUCCEEDED"
	StateRejected  ExecutionState = "REJECTED"
	StateFailed    ExecutionState = "FAILED"
)

func (s ExecutionState) Terminal() bool {
	switch s {
	case StateSucceeded, StateRejected, StateFailed:
		return true
	}
	return false
}

// ExecutionStatus is the external, client-facing view of an execution.
type ExecutionStatus string

const (
	StatusInProgress ExecutionStatus = "IN_PROGRESS"
	StatusCompleted  ExecutionStatus = "COMPLETED"
	StatusFailed     ExecutionStatus = "FAILED"
	StatusUnknown    ExecutionStatus = "UNKNOWN"
)

// Execution is one durable run of a workflow. The name is deterministic for
// a given trigger payload, which is what makes starts idempotent under
// at-least-once delivery.
type Execution struct {
	Name       string          `json:"name" db:"name"`
	Kind       ExecutionKind   `json:"kind" db:"kind"`
	EntityID   string          `json:"entity_id" db:"entity_id"`
	State      ExecutionState  `json:"state" db:"state"`
	Attempts   int             `json:"attempts" db:"attempts"`
	Output     json.RawMessage `json:"output,omitempty" db:"output"`
	LastError  string          `json:"last_error,omitempty" db:"last_error"`
	StartedAt  time.Time       `json:"started_at" db:"started_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

// Status maps the internal state machine onto the client-facing status.
func (e *Execution) Status() ExecutionStatus {
	switch e.State {
	case StateSucceeded:
		return StatusCompleted
	case StateFailed, StateRejected:
		return StatusFailed
	case "":
		return StatusUnknown
	default:
		return StatusInProgress
	}
}
