package pipeline

import (
	"context"
	"time"

	"github.com/vietddude/chainrelay/internal/core/cursor"
	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Runner is the long-running process the daemon drives.
type Runner interface {
	// Run follows the chain until ctx ends, Stop is called or a fatal error
	// occurs. A clean shutdown returns nil.
	Run(ctx context.Context) error

	// Stop asks a running pipeline to shut down cleanly.
	Stop() error

	// GetStatus returns a snapshot of the pipeline.
	GetStatus() Status
}

// Status is a point-in-time view of a pipeline, served on /status.
type Status struct {
	Network         string               `json:"network"`
	RunID           string               `json:"run_id"`
	Running         bool                 `json:"running"`
	State           domain.PipelineState `json:"state"`
	StateSince      time.Time            `json:"state_since"`
	Description     string               `json:"description"`
	Cursor          *domain.Point        `json:"cursor,omitempty"`
	Tip             *domain.Tip          `json:"tip,omitempty"`
	LagSlots        uint64               `json:"lag_slots"`
	FinalizerDepth  int                  `json:"finalizer_depth"`
	Reconnects      int                  `json:"reconnects"`
	EventsDelivered int64                `json:"events_delivered"`
	CursorMetrics   cursor.Metrics       `json:"cursor_metrics"`
	LastError       string               `json:"last_error,omitempty"`
}
