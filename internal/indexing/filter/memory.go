package filter

import (
	"container/list"
	"sync"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

// DefaultDedupCapacity bounds the recent-fingerprint set when unset.
const DefaultDedupCapacity = 10000

// Dedup drops events whose fingerprint was seen recently. Events without a
// fingerprint pass; put a Fingerprint stage in front.
type Dedup struct {
	capacity int
	order    *list.List
	seen     map[string]*list.Element
	mu       sync.Mutex
}

// NewDedup creates a dedup stage holding up to capacity fingerprints.
func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &Dedup{
		capacity: capacity,
		order:    list.New(),
		seen:     make(map[string]*list.Element, capacity),
	}
}

func (*Dedup) Name() string { return "dedup" }

// Apply implements Stage.
func (d *Dedup) Apply(ev *domain.Event) (*domain.Event, Verdict) {
	if ev.Fingerprint == "" {
		return ev, Pass
	}
	if d.Contains(ev.Fingerprint) {
		return nil, Drop
	}
	d.Add(ev.Fingerprint)
	return ev, Pass
}

// Contains reports whether fp is tracked and marks it recently used.
func (d *Dedup) Contains(fp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.seen[fp]
	if ok {
		d.order.MoveToFront(el)
	}
	return ok
}

// Add tracks fp, evicting the least recently used entry when full.
func (d *Dedup) Add(fp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.seen[fp]; ok {
		d.order.MoveToFront(el)
		return
	}
	d.seen[fp] = d.order.PushFront(fp)
	for d.order.Len() > d.capacity {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
	}
}

// Size returns the number of tracked fingerprints.
func (d *Dedup) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
