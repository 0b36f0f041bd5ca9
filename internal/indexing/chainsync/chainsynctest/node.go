// Package chainsynctest provides an in-memory chain-sync node for tests.
package chainsynctest

import (
	"context"
	"fmt"
	"sync"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/chainsync"
)

// Node serves a mutable chain to any number of sessions. Sessions block at
// the tip until the chain is extended or rolled back.
type Node struct {
	mu      sync.Mutex
	chain   []domain.RawBlock
	changed chan struct{}

	replies     int
	dropAt      int
	refuseDials int
	dials       int
	intersects  [][]domain.Point
}

// NewNode creates a node serving chain.
func NewNode(chain []domain.RawBlock) *Node {
	return &Node{
		chain:   append([]domain.RawBlock(nil), chain...),
		changed: make(chan struct{}),
		dropAt:  -1,
	}
}

var _ chainsync.Dialer = (*Node)(nil)

// Dial opens a new session.
func (n *Node) Dial(ctx context.Context) (chainsync.Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dials++
	if n.refuseDials > 0 {
		n.refuseDials--
		return nil, fmt.Errorf("%w: dial refused", domain.ErrConnection)
	}
	return &Session{node: n}, nil
}

// Extend appends blocks and wakes waiting sessions.
func (n *Node) Extend(blocks ...domain.RawBlock) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chain = append(n.chain, blocks...)
	n.notifyLocked()
}

// RollbackTo discards every block after point. Sessions that already sent
// a discarded block reply with RollBackward next.
func (n *Node) RollbackTo(point domain.Point) {
	n.mu.Lock()
	defer n.mu.Unlock()
	keep := 0
	for i, b := range n.chain {
		if b.Point.Equal(point) {
			keep = i + 1
			break
		}
	}
	n.chain = n.chain[:keep]
	n.notifyLocked()
}

// DropAfter makes the connection fail after the given number of further
// RequestNext replies.
func (n *Node) DropAfter(replies int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropAt = n.replies + replies
}

// RefuseDials makes the next count dials fail.
func (n *Node) RefuseDials(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refuseDials = count
}

// Dials returns how many sessions were requested.
func (n *Node) Dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

// Intersects returns the point lists passed to FindIntersect, in order.
func (n *Node) Intersects() [][]domain.Point {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]domain.Point, len(n.intersects))
	copy(out, n.intersects)
	return out
}

// Tip returns the node's current tip.
func (n *Node) Tip() domain.Tip {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tipLocked()
}

func (n *Node) tipLocked() domain.Tip {
	if len(n.chain) == 0 {
		return domain.Tip{Point: domain.Origin}
	}
	return domain.Tip{
		Point:       n.chain[len(n.chain)-1].Point,
		BlockNumber: uint64(len(n.chain)),
	}
}

func (n *Node) notifyLocked() {
	close(n.changed)
	n.changed = make(chan struct{})
}

// indexOf returns how many blocks precede and include p, or -1.
func (n *Node) indexOf(p domain.Point) int {
	if p.IsOrigin() {
		return 0
	}
	for i, b := range n.chain {
		if b.Point.Equal(p) {
			return i + 1
		}
	}
	return -1
}

// Session is one connection to a Node.
type Session struct {
	node *Node

	// sent holds the points of the chain prefix the consumer knows about.
	sent      []domain.Point
	intersect *domain.Point
	rewind    bool
	closed    bool
}

// FindIntersect positions the session on the first known point.
func (s *Session) FindIntersect(ctx context.Context, points []domain.Point) (*domain.Point, domain.Tip, error) {
	n := s.node
	n.mu.Lock()
	defer n.mu.Unlock()

	if s.closed {
		return nil, domain.Tip{}, fmt.Errorf("%w: session closed", domain.ErrConnection)
	}
	n.intersects = append(n.intersects, append([]domain.Point(nil), points...))

	for _, p := range points {
		idx := n.indexOf(p)
		if idx < 0 {
			continue
		}
		s.sent = s.sent[:0]
		for _, b := range n.chain[:idx] {
			s.sent = append(s.sent, b.Point)
		}
		found := p
		s.intersect = &found
		s.rewind = true
		return &found, n.tipLocked(), nil
	}
	return nil, n.tipLocked(), nil
}

// RequestNext returns the next reply, blocking at the tip.
func (s *Session) RequestNext(ctx context.Context) (domain.RollEvent, error) {
	n := s.node
	for {
		n.mu.Lock()
		if s.closed {
			n.mu.Unlock()
			return domain.RollEvent{}, fmt.Errorf("%w: session closed", domain.ErrConnection)
		}
		if s.intersect == nil {
			n.mu.Unlock()
			return domain.RollEvent{}, fmt.Errorf("request next before intersection")
		}
		if n.dropAt >= 0 && n.replies >= n.dropAt {
			n.dropAt = -1
			s.closed = true
			n.mu.Unlock()
			return domain.RollEvent{}, fmt.Errorf("%w: connection reset by peer", domain.ErrConnection)
		}

		ev, ok := s.nextLocked()
		if ok {
			n.replies++
			n.mu.Unlock()
			return ev, nil
		}

		wait := n.changed
		n.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.RollEvent{}, ctx.Err()
		case <-wait:
		}
	}
}

func (s *Session) nextLocked() (domain.RollEvent, bool) {
	n := s.node
	tip := n.tipLocked()

	// The first reply after an intersection confirms it.
	if s.rewind {
		s.rewind = false
		return domain.NewRollBackward(*s.intersect, tip), true
	}

	common := 0
	for common < len(s.sent) && common < len(n.chain) && s.sent[common].Equal(n.chain[common].Point) {
		common++
	}
	if common < len(s.sent) {
		s.sent = s.sent[:common]
		target := domain.Origin
		if common > 0 {
			target = s.sent[common-1]
		}
		return domain.NewRollBackward(target, tip), true
	}

	if len(s.sent) < len(n.chain) {
		block := n.chain[len(s.sent)]
		s.sent = append(s.sent, block.Point)
		return domain.NewRollForward(block, tip), true
	}
	return domain.RollEvent{}, false
}

// Close ends the session.
func (s *Session) Close() error {
	s.node.mu.Lock()
	defer s.node.mu.Unlock()
	s.closed = true
	return nil
}
