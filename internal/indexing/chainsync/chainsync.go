// Package chainsync negotiates a start point with a node and follows its
// chain.
//
// A Session is one connection to a node speaking the chain-sync
// mini-protocol: FindIntersect positions the session on a common point and
// RequestNext yields roll-forward and roll-backward replies, blocking while
// the node has nothing new. Transports live under internal/infra/chain.
//
// The Resolver picks the point to start from. A persisted cursor always
// wins over the configured policy so a restart never silently jumps to the
// tip or back to genesis.
//
// The Reader drives a session from that point and publishes replies in the
// order the node sent them.
package chainsync

import (
	"context"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Session is a single chain-sync conversation with a node.
type Session interface {
	// FindIntersect asks the node for the first of points that is on its
	// chain. A nil point means none was found. The node's tip is returned
	// either way.
	FindIntersect(ctx context.Context, points []domain.Point) (*domain.Point, domain.Tip, error)

	// RequestNext blocks until the node has a reply for the session.
	RequestNext(ctx context.Context) (domain.RollEvent, error)

	// Close releases the connection.
	Close() error
}

// Dialer opens sessions. Each reconnect gets a fresh session.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Session, error) {
	return f(ctx)
}
