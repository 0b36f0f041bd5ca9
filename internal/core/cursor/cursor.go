// Package cursor owns the durable resume point of the pipeline.
//
// # Purpose
//
// The cursor is the "bookmark" of the relay: the last chain point whose
// events were fully delivered to the sink. On restart the intersection is
// negotiated from it instead of the configured policy, so a restarted
// process continues exactly where the previous one stopped.
//
// # Key Features
//
// Monotonic Commits - Commit only moves forward. Committing the same or an
// earlier slot than the stored one is a no-op:
//
//	manager.Commit(ctx, p100) // stored
//	manager.Commit(ctx, p90)  // ignored
//	manager.Commit(ctx, p100) // ignored
//
// Atomic Updates - Backends replace the stored record all-or-nothing; the
// File backend writes a temp file, fsyncs and renames it over the target.
//
// Operator Override - Reset is the only way to move the cursor backwards
// and is reached from the "cursor reset" command, never from the pipeline.
//
// Failure Classification - Any backend error is wrapped with
// domain.ErrCursorPersist, which stops the pipeline.
//
// # Quick Start
//
//	manager := cursor.NewManager(fileRepo)
//
//	start, _ := manager.Load(ctx) // nil when nothing was stored
//
//	// after a block's events were delivered
//	if err := manager.Commit(ctx, block.Point); err != nil {
//	    return err // fatal
//	}
//
// # Package Structure
//
//   - manager.go - Manager implementation with the monotonic guard
//   - metrics.go - Commit rate tracking exposed on /status
package cursor

import (
	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/infra/storage"
)

// =============================================================================
// Re-exported types from domain package
// =============================================================================

// Cursor represents the persisted resume position.
type Cursor = domain.Cursor

// =============================================================================
// Constructor functions
// =============================================================================

// NewManager creates a new cursor manager with the given repository.
func NewManager(repo storage.CursorRepository) *DefaultManager {
	return &DefaultManager{
		repo:      repo,
		collector: NewMetricsCollector(100),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize: windowSize,
		commits:    make([]commitRecord, 0, windowSize),
	}
}
