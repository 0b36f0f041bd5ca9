package domain

import "fmt"

// IntersectKind selects how the starting point is chosen when no cursor
// has been persisted.
type IntersectKind string

const (
	IntersectTip       IntersectKind = "Tip"
	IntersectOrigin    IntersectKind = "Origin"
	IntersectPoint     IntersectKind = "Point"
	IntersectFallbacks IntersectKind = "Fallbacks"
)

// IntersectPolicy is the configured resume policy.
type IntersectPolicy struct {
	Kind   IntersectKind
	Points []Point // one point for Point, candidates in order for Fallbacks
}

// Validate checks that the policy carries the points its kind needs.
func (p IntersectPolicy) Validate() error {
	switch p.Kind {
	case IntersectTip, IntersectOrigin:
		return nil
	case IntersectPoint:
		if len(p.Points) != 1 {
			return fmt.Errorf("%w: intersect Point needs exactly one point", ErrConfig)
		}
		return nil
	case IntersectFallbacks:
		if len(p.Points) == 0 {
			return fmt.Errorf("%w: intersect Fallbacks needs at least one point", ErrConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown intersect type %q", ErrConfig, p.Kind)
	}
}
