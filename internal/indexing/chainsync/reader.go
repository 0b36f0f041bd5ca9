package chainsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Reader follows the node's chain from a start point.
type Reader struct {
	session Session
	start   domain.Point
	logger  *slog.Logger

	started bool
}

// NewReader creates a reader. The session is owned by the caller.
func NewReader(session Session, start domain.Point, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		session: session,
		start:   start,
		logger:  logger.With("component", "reader"),
	}
}

// Start negotiates the intersection once. It fails with ErrIntersection if
// the node does not know the start point.
func (r *Reader) Start(ctx context.Context) (domain.Tip, error) {
	if r.started {
		return domain.Tip{}, errors.New("reader already started")
	}

	found, tip, err := r.session.FindIntersect(ctx, []domain.Point{r.start})
	if err != nil {
		return domain.Tip{}, fmt.Errorf("find intersect: %w", err)
	}
	if found == nil {
		return domain.Tip{}, fmt.Errorf("%w: start point %s is not on the node's chain",
			domain.ErrIntersection, r.start.String())
	}

	r.started = true
	r.logger.Info("Intersection found",
		"point", found.String(),
		"tip_slot", tip.Point.Slot,
		"tip_block", tip.BlockNumber,
	)
	return tip, nil
}

// Next blocks until the node sends the next reply.
func (r *Reader) Next(ctx context.Context) (domain.RollEvent, error) {
	if !r.started {
		return domain.RollEvent{}, errors.New("reader not started")
	}
	return r.session.RequestNext(ctx)
}

// Run publishes replies to out until ctx is cancelled or the session fails.
// It never closes out.
func (r *Reader) Run(ctx context.Context, out chan<- domain.RollEvent) error {
	for {
		ev, err := r.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if ev.Kind == domain.RollBackward {
			r.logger.Debug("Roll backward", "point", ev.Point.String())
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
