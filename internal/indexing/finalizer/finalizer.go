// Package finalizer holds blocks back until they are deep enough in the
// chain to be treated as final.
package finalizer

import (
	"fmt"
	"sync"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Config bounds the buffer.
type Config struct {
	// MinDepth is the buffer length at which the oldest block is released.
	// Zero behaves as one.
	MinDepth uint64

	// MaxBlockQuantity caps the buffer. Zero means no cap.
	MaxBlockQuantity uint64
}

// Finalizer buffers unconfirmed blocks in chain order and releases them once
// they have enough blocks on top. It only ever rewinds blocks it still holds.
type Finalizer struct {
	cfg Config

	mu       sync.Mutex
	pending  []domain.RawBlock
	frontier domain.Point
	released uint64
}

// New creates a finalizer for a session starting at start. Blocks at or
// before start count as already released.
func New(cfg Config, start domain.Point) *Finalizer {
	if cfg.MinDepth == 0 {
		cfg.MinDepth = 1
	}
	return &Finalizer{cfg: cfg, frontier: start}
}

// Apply feeds one chain-sync reply and returns the blocks it confirms, oldest
// first.
func (f *Finalizer) Apply(ev domain.RollEvent) ([]domain.RawBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch ev.Kind {
	case domain.RollForward:
		return f.forwardLocked(ev.Block), nil
	case domain.RollBackward:
		return nil, f.rollbackLocked(ev.Point)
	default:
		return nil, fmt.Errorf("unknown roll kind %q", ev.Kind)
	}
}

func (f *Finalizer) forwardLocked(block domain.RawBlock) []domain.RawBlock {
	f.pending = append(f.pending, block)

	var out []domain.RawBlock
	for uint64(len(f.pending)) >= f.cfg.MinDepth ||
		(f.cfg.MaxBlockQuantity > 0 && uint64(len(f.pending)) > f.cfg.MaxBlockQuantity) {
		out = append(out, f.popLocked())
	}
	return out
}

func (f *Finalizer) popLocked() domain.RawBlock {
	oldest := f.pending[0]
	f.pending[0] = domain.RawBlock{}
	f.pending = f.pending[1:]
	f.frontier = oldest.Point
	f.released++
	return oldest
}

func (f *Finalizer) rollbackLocked(p domain.Point) error {
	if p.Before(f.frontier) || (p.Slot == f.frontier.Slot && !p.Equal(f.frontier)) {
		return fmt.Errorf("%w: rollback to %s but %s was already released",
			domain.ErrRollbackBeyondWindow, p.String(), f.frontier.String())
	}

	keep := len(f.pending)
	for keep > 0 && f.pending[keep-1].Point.Slot > p.Slot {
		keep--
	}
	for i := keep; i < len(f.pending); i++ {
		f.pending[i] = domain.RawBlock{}
	}
	f.pending = f.pending[:keep]
	return nil
}

// Depth returns the number of buffered blocks.
func (f *Finalizer) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Frontier returns the last released point, or the start point if nothing
// has been released.
func (f *Finalizer) Frontier() domain.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frontier
}

// Released returns how many blocks have been released.
func (f *Finalizer) Released() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}
