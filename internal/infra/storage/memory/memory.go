package memory

import (
	"context"
	"sync"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/infra/storage"
)

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

// CursorRepo keeps the cursor in process memory. Used by tests and by
// deployments that always start from the configured intersect policy.
type CursorRepo struct {
	mu     sync.RWMutex
	cursor *domain.Cursor
}

func NewCursorRepo() *CursorRepo {
	return &CursorRepo{}
}

func (r *CursorRepo) Load(ctx context.Context) (*domain.Cursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cursor == nil {
		return nil, storage.ErrCursorNotFound
	}
	c := *r.cursor
	return &c, nil
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *cursor
	r.cursor = &c
	return nil
}

func (r *CursorRepo) Close() error {
	return nil
}

// -----------------------------------------------------------------------------
// Event Repository
// -----------------------------------------------------------------------------

// EventRepo collects delivered events, deduplicated by fingerprint.
type EventRepo struct {
	mu     sync.RWMutex
	events []*domain.Event
	seen   map[string]struct{}
}

func NewEventRepo() *EventRepo {
	return &EventRepo{seen: make(map[string]struct{})}
}

func (r *EventRepo) Insert(ctx context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.Fingerprint != "" {
		if _, ok := r.seen[event.Fingerprint]; ok {
			return nil
		}
		r.seen[event.Fingerprint] = struct{}{}
	}
	r.events = append(r.events, event)
	return nil
}

// Events returns a snapshot of stored events.
func (r *EventRepo) Events() []*domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *EventRepo) Close() error {
	return nil
}
