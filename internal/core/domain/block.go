package domain

// RawBlock is an undecoded block body together with its position.
type RawBlock struct {
	Point Point
	Body  []byte
}

// RollKind tags a chain-sync occurrence.
type RollKind string

const (
	RollForward  RollKind = "forward"
	RollBackward RollKind = "backward"
)

// RollEvent is one reply of a chain-sync session: either a new block to
// apply, or a point to rewind to (inclusive).
type RollEvent struct {
	Kind  RollKind
	Block RawBlock // set for RollForward
	Point Point    // rewind target for RollBackward
	Tip   Tip
}

// NewRollForward builds a forward event.
func NewRollForward(block RawBlock, tip Tip) RollEvent {
	return RollEvent{Kind: RollForward, Block: block, Point: block.Point, Tip: tip}
}

// NewRollBackward builds a backward event.
func NewRollBackward(point Point, tip Tip) RollEvent {
	return RollEvent{Kind: RollBackward, Point: point, Tip: tip}
}

// Batch is the filtered output of one confirmed block. An empty Events
// slice still advances the cursor once delivered.
type Batch struct {
	Point       Point
	BlockNumber uint64
	Events      []*Event
}
