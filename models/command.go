package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdPause    CommandType = "pause"
	CmdResume   CommandType = "resume"
	CmdSweepNow CommandType = "sweep_now"
	CmdRetry    CommandType = "retry_execution"
)

// Command is an operator instruction picked up by the scheduler from the
// local ops journal.
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	ExecutionName string `json:"execution_name,omitempty"`
}
