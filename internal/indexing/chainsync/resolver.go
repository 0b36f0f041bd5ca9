package chainsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Resolver picks the starting point for a session.
type Resolver struct {
	policy domain.IntersectPolicy
	logger *slog.Logger
}

// NewResolver creates a resolver for the configured policy.
func NewResolver(policy domain.IntersectPolicy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{policy: policy, logger: logger.With("component", "resolver")}
}

// Resolve returns the point the reader should start from. A persisted cursor
// takes priority over the policy.
func (r *Resolver) Resolve(ctx context.Context, session Session, cursor *domain.Cursor) (domain.Point, error) {
	if cursor != nil {
		r.logger.Info("Resuming from cursor", "point", cursor.Point.String())
		return cursor.Point, nil
	}

	switch r.policy.Kind {
	case domain.IntersectOrigin:
		return domain.Origin, nil

	case domain.IntersectPoint:
		if len(r.policy.Points) == 0 {
			return domain.Point{}, fmt.Errorf("%w: intersect Point without a point", domain.ErrConfig)
		}
		return r.policy.Points[0], nil

	case domain.IntersectTip:
		// Origin is always on the chain; the reply carries the tip.
		_, tip, err := session.FindIntersect(ctx, []domain.Point{domain.Origin})
		if err != nil {
			return domain.Point{}, fmt.Errorf("query tip: %w", err)
		}
		r.logger.Info("Starting from node tip", "point", tip.Point.String(), "block", tip.BlockNumber)
		return tip.Point, nil

	case domain.IntersectFallbacks:
		for i, candidate := range r.policy.Points {
			found, _, err := session.FindIntersect(ctx, []domain.Point{candidate})
			if err != nil {
				return domain.Point{}, fmt.Errorf("negotiate fallback %d: %w", i, err)
			}
			if found != nil {
				r.logger.Info("Fallback point accepted", "index", i, "point", found.String())
				return *found, nil
			}
			r.logger.Debug("Fallback point not on chain", "index", i, "point", candidate.String())
		}
		return domain.Point{}, fmt.Errorf("%w: none of %d fallback points is on the node's chain",
			domain.ErrIntersection, len(r.policy.Points))

	default:
		return domain.Point{}, fmt.Errorf("%w: unknown intersect type %q", domain.ErrConfig, r.policy.Kind)
	}
}
