package n2n

import (
	"encoding/hex"
	"fmt"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

// JSON-RPC methods exposed by the chain-sync bridge.
const (
	MethodFindIntersect = "chainsync_findIntersect"
	MethodRequestNext   = "chainsync_requestNext"
	MethodClose         = "chainsync_close"
)

// Reply directions for chainsync_requestNext.
const (
	DirectionForward  = "forward"
	DirectionBackward = "backward"
	DirectionAwait    = "await"
)

// FindIntersectParams is the chainsync_findIntersect request.
type FindIntersectParams struct {
	Session string         `json:"session,omitempty"`
	Points  []domain.Point `json:"points"`
}

// FindIntersectResult is the chainsync_findIntersect reply. The bridge
// allocates a session id on the first call.
type FindIntersectResult struct {
	Session      string        `json:"session"`
	Intersection *domain.Point `json:"intersection"`
	Tip          domain.Tip    `json:"tip"`
}

// SessionParams carries the session id.
type SessionParams struct {
	Session string `json:"session"`
}

// RequestNextResult is the chainsync_requestNext reply.
type RequestNextResult struct {
	Direction string       `json:"direction"`
	Block     string       `json:"block,omitempty"`
	Point     domain.Point `json:"point"`
	Tip       domain.Tip   `json:"tip"`
}

// ToRollEvent converts a reply. ok is false for "await".
func (r RequestNextResult) ToRollEvent() (ev domain.RollEvent, ok bool, err error) {
	switch r.Direction {
	case DirectionForward:
		body, err := hex.DecodeString(r.Block)
		if err != nil {
			return domain.RollEvent{}, false, fmt.Errorf("invalid block hex at %s: %w", r.Point.String(), err)
		}
		return domain.NewRollForward(domain.RawBlock{Point: r.Point, Body: body}, r.Tip), true, nil
	case DirectionBackward:
		return domain.NewRollBackward(r.Point, r.Tip), true, nil
	case DirectionAwait:
		return domain.RollEvent{}, false, nil
	default:
		return domain.RollEvent{}, false, fmt.Errorf("unknown direction %q", r.Direction)
	}
}

// FromRollEvent builds the reply for ev, used by bridges and tests.
func FromRollEvent(ev domain.RollEvent) RequestNextResult {
	if ev.Kind == domain.RollForward {
		return RequestNextResult{
			Direction: DirectionForward,
			Block:     hex.EncodeToString(ev.Block.Body),
			Point:     ev.Block.Point,
			Tip:       ev.Tip,
		}
	}
	return RequestNextResult{Direction: DirectionBackward, Point: ev.Point, Tip: ev.Tip}
}
