package storage

import (
	"context"
	"errors"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

var (
	// ErrCursorNotFound is returned when no cursor has been persisted yet.
	ErrCursorNotFound = errors.New("cursor not found")
)

// CursorRepository persists the single resume point of a pipeline.
// Save must replace the stored value atomically: a reader sees either the
// previous record or the new one, never a partial write.
type CursorRepository interface {
	// Load returns the stored cursor or ErrCursorNotFound.
	Load(ctx context.Context) (*domain.Cursor, error)

	// Save overwrites the stored cursor.
	Save(ctx context.Context, cursor *domain.Cursor) error

	// Close releases the underlying handle.
	Close() error
}

// EventRepository appends delivered events to a store. Implementations
// must be idempotent on the event fingerprint so redelivery after a restart
// is harmless.
type EventRepository interface {
	Insert(ctx context.Context, event *domain.Event) error
	Close() error
}
