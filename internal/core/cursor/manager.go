package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/infra/storage"
)

// Manager guards the single writer of the resume point.
type Manager interface {
	// Load reads the stored point. It returns nil when nothing was stored.
	Load(ctx context.Context) (*domain.Point, error)

	// Commit advances the cursor. Same or earlier points are ignored.
	Commit(ctx context.Context, point domain.Point) error

	// Reset overwrites the cursor unconditionally (operator action).
	Reset(ctx context.Context, point domain.Point) error

	// Current returns the last known point without touching storage.
	Current() *domain.Point

	// GetMetrics returns commit statistics.
	GetMetrics() Metrics
}

// DefaultManager implements Manager on top of a CursorRepository.
type DefaultManager struct {
	repo      storage.CursorRepository
	mu        sync.Mutex
	current   *domain.Cursor
	loaded    bool
	collector *MetricsCollector
	onCommit  func(domain.Point)
}

// SetCommitCallback registers a hook invoked after each stored commit.
func (m *DefaultManager) SetCommitCallback(fn func(domain.Point)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCommit = fn
}

// Load reads the stored point.
func (m *DefaultManager) Load(ctx context.Context) (*domain.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return nil, err
	}
	if m.current == nil {
		return nil, nil
	}
	p := m.current.Point
	return &p, nil
}

func (m *DefaultManager) loadLocked(ctx context.Context) error {
	c, err := m.repo.Load(ctx)
	if errors.Is(err, storage.ErrCursorNotFound) {
		m.current, m.loaded = nil, true
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: load: %v", domain.ErrCursorPersist, err)
	}
	m.current, m.loaded = c, true
	return nil
}

// Commit moves the cursor forward after a block was fully delivered.
func (m *DefaultManager) Commit(ctx context.Context, point domain.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		if err := m.loadLocked(ctx); err != nil {
			return err
		}
	}

	// Idempotent: the stored slot already covers this point.
	if m.current != nil && point.Slot <= m.current.Point.Slot {
		return nil
	}

	c := &domain.Cursor{Point: point, UpdatedAt: time.Now()}
	if err := m.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("%w: commit %s: %v", domain.ErrCursorPersist, point, err)
	}
	m.current = c
	m.collector.RecordCommit(point.Slot, c.UpdatedAt)

	if m.onCommit != nil {
		m.onCommit(point)
	}
	return nil
}

// Reset overwrites the cursor, allowing it to move backwards.
func (m *DefaultManager) Reset(ctx context.Context, point domain.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var from string
	if m.current != nil {
		from = m.current.Point.String()
	}

	c := &domain.Cursor{Point: point, UpdatedAt: time.Now()}
	if err := m.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("%w: reset to %s: %v", domain.ErrCursorPersist, point, err)
	}
	m.current, m.loaded = c, true
	m.collector.Reset()

	slog.Warn("Cursor reset by operator", "from", from, "to", point.String())
	return nil
}

// Current returns the last known point.
func (m *DefaultManager) Current() *domain.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	p := m.current.Point
	return &p
}

// GetMetrics returns commit statistics.
func (m *DefaultManager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collector.GetMetrics()
}
