package domain

import "time"

// Cursor is the persisted resume position: everything up to and including
// Point has been delivered.
type Cursor struct {
	Point     Point     `json:"point"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PipelineState is a state of the pipeline driver.
type PipelineState string

const (
	StateResolving    PipelineState = "resolving"
	StateConnecting   PipelineState = "connecting"
	StateStreaming    PipelineState = "streaming"
	StateReconnecting PipelineState = "reconnecting"
	StateTerminated   PipelineState = "terminated"
)
