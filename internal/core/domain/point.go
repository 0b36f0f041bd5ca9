package domain

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Point identifies a position on the chain by slot and block hash.
// The zero value is the origin.
type Point struct {
	Slot uint64
	Hash []byte
}

// Origin is the genesis position (slot 0, empty hash).
var Origin = Point{}

// NewPoint builds a point from a slot and a hex encoded hash.
func NewPoint(slot uint64, hexHash string) (Point, error) {
	if hexHash == "" {
		return Point{Slot: slot}, nil
	}
	h, err := hex.DecodeString(hexHash)
	if err != nil {
		return Point{}, fmt.Errorf("invalid point hash %q: %w", hexHash, err)
	}
	return Point{Slot: slot, Hash: h}, nil
}

// MustPoint is NewPoint for literals known to be valid.
func MustPoint(slot uint64, hexHash string) Point {
	p, err := NewPoint(slot, hexHash)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePoint parses the "slot.hash" text form.
func ParsePoint(s string) (Point, error) {
	slotPart, hashPart, ok := strings.Cut(s, ".")
	if !ok {
		return Point{}, fmt.Errorf("invalid point %q: expected slot.hash", s)
	}
	slot, err := strconv.ParseUint(slotPart, 10, 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid point slot %q: %w", slotPart, err)
	}
	return NewPoint(slot, hashPart)
}

// IsOrigin reports whether p is the genesis position.
func (p Point) IsOrigin() bool {
	return p.Slot == 0 && len(p.Hash) == 0
}

// Equal requires both slot and hash to match.
func (p Point) Equal(o Point) bool {
	return p.Slot == o.Slot && bytes.Equal(p.Hash, o.Hash)
}

// Before orders points by slot.
func (p Point) Before(o Point) bool {
	return p.Slot < o.Slot
}

// HashHex returns the hex encoded block hash.
func (p Point) HashHex() string {
	return hex.EncodeToString(p.Hash)
}

func (p Point) String() string {
	if p.IsOrigin() {
		return "origin"
	}
	return fmt.Sprintf("%d.%s", p.Slot, p.HashHex())
}

type pointJSON struct {
	Slot uint64 `json:"slot"`
	Hash string `json:"hash"`
}

// MarshalJSON encodes the point as {"slot":N,"hash":"hex"}.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointJSON{Slot: p.Slot, Hash: p.HashHex()})
}

// UnmarshalJSON decodes the {"slot":N,"hash":"hex"} form.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw pointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewPoint(raw.Slot, raw.Hash)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UnmarshalYAML accepts the [slot, "hash"] form used in configuration files.
func (p *Point) UnmarshalYAML(unmarshal func(any) error) error {
	var pair []any
	if err := unmarshal(&pair); err != nil {
		return fmt.Errorf("point must be a [slot, hash] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("point must be a [slot, hash] pair, got %d items", len(pair))
	}

	var slot uint64
	switch v := pair[0].(type) {
	case int:
		if v < 0 {
			return fmt.Errorf("point slot must be positive, got %d", v)
		}
		slot = uint64(v)
	case uint64:
		slot = v
	case int64:
		slot = uint64(v)
	default:
		return fmt.Errorf("point slot must be an integer, got %T", pair[0])
	}

	hash, ok := pair[1].(string)
	if !ok {
		return fmt.Errorf("point hash must be a string, got %T", pair[1])
	}

	parsed, err := NewPoint(slot, hash)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Tip is the head of the node's chain at the time of a reply.
type Tip struct {
	Point       Point  `json:"point"`
	BlockNumber uint64 `json:"block_number"`
}
