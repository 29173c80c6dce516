package models

import "time"

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// PipelineLog is one operational journal line, tied to an execution when
// one is in scope.
type PipelineLog struct {
	ID            int64     `json:"id" db:"id"`
	ExecutionName string    `json:"execution_name" db:"execution_name"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	Level         LogLevel  `json:"level" db:"level"`
	Message       string    `json:"message" db:"message"`
}
