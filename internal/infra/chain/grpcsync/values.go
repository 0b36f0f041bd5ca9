package grpcsync

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

var nowFunc = time.Now

// Slots and block numbers travel as decimal strings. structpb numbers are
// float64 and lose precision above 2^53.
func pointValue(p domain.Point) map[string]any {
	return map[string]any{"slot": strconv.FormatUint(p.Slot, 10), "hash": p.HashHex()}
}

func tipValue(t domain.Tip) map[string]any {
	return map[string]any{"point": pointValue(t.Point), "block_number": strconv.FormatUint(t.BlockNumber, 10)}
}

// uintValue reads a string-encoded integer. Plain numbers are accepted
// while they are exact.
func uintValue(v *structpb.Value, name string) (uint64, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, err := strconv.ParseUint(k.StringValue, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", domain.ErrDecode, name, err)
		}
		return n, nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f < 0 || f > 1<<53 || f != math.Trunc(f) {
			return 0, fmt.Errorf("%w: %s %v is not an exact integer", domain.ErrDecode, name, f)
		}
		return uint64(f), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %s has unexpected type", domain.ErrDecode, name)
	}
}

func parsePoint(v *structpb.Value) (domain.Point, error) {
	s := v.GetStructValue()
	if s == nil {
		return domain.Point{}, fmt.Errorf("%w: missing point", domain.ErrDecode)
	}
	fields := s.GetFields()
	slot, err := uintValue(fields["slot"], "slot")
	if err != nil {
		return domain.Point{}, err
	}
	p, err := domain.NewPoint(slot, fields["hash"].GetStringValue())
	if err != nil {
		return domain.Point{}, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	return p, nil
}

func parseTip(v *structpb.Value) (domain.Tip, error) {
	s := v.GetStructValue()
	if s == nil {
		return domain.Tip{}, nil
	}
	p, err := parsePoint(s.GetFields()["point"])
	if err != nil {
		return domain.Tip{}, err
	}
	number, err := uintValue(s.GetFields()["block_number"], "block_number")
	if err != nil {
		return domain.Tip{}, err
	}
	return domain.Tip{Point: p, BlockNumber: number}, nil
}

func keys(fields map[string]*structpb.Value) []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EncodeRollEvent builds the server reply for ev.
func EncodeRollEvent(ev domain.RollEvent) (*structpb.Struct, error) {
	if ev.Kind == domain.RollForward {
		return structpb.NewStruct(map[string]any{
			KeyRollForward: map[string]any{
				"block": fmt.Sprintf("%x", ev.Block.Body),
				"point": pointValue(ev.Block.Point),
				"tip":   tipValue(ev.Tip),
			},
		})
	}
	return structpb.NewStruct(map[string]any{
		KeyRollBackward: map[string]any{
			"point": pointValue(ev.Point),
			"tip":   tipValue(ev.Tip),
		},
	})
}

// EncodeIntersect builds the server reply to find_intersect.
func EncodeIntersect(found *domain.Point, tip domain.Tip) (*structpb.Struct, error) {
	if found == nil {
		return structpb.NewStruct(map[string]any{
			KeyIntersectNotFound: map[string]any{"tip": tipValue(tip)},
		})
	}
	return structpb.NewStruct(map[string]any{
		KeyIntersectFound: map[string]any{"point": pointValue(*found), "tip": tipValue(tip)},
	})
}

// DecodePoints reads the points of a find_intersect request.
func DecodePoints(req *structpb.Struct) ([]domain.Point, error) {
	body := req.GetFields()[KeyFindIntersect].GetStructValue()
	if body == nil {
		return nil, fmt.Errorf("not a find_intersect request")
	}
	list := body.GetFields()["points"].GetListValue().GetValues()
	points := make([]domain.Point, 0, len(list))
	for _, v := range list {
		p, err := parsePoint(v)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, nil
}
