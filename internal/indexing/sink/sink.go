// Package sink delivers filtered events and advances the cursor once a
// block has been fully delivered.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/chainrelay/internal/core/cursor"
	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/metrics"
	"github.com/vietddude/chainrelay/internal/infra/tracing"
)

// Sink delivers one event at a time. Deliver returns only when the event was
// accepted, skipped by policy, or definitively failed.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev *domain.Event) error
	Close() error
}

// Dispatcher feeds batches to a sink strictly in order and commits each
// block point after its last event.
type Dispatcher struct {
	sink     Sink
	cursor   cursor.Manager
	recorder metrics.Recorder
	logger   *slog.Logger
	tracer   trace.Tracer

	delivered atomic.Int64
}

// NewDispatcher creates a dispatcher. recorder may be nil.
func NewDispatcher(s Sink, cur cursor.Manager, recorder metrics.Recorder, logger *slog.Logger) *Dispatcher {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sink:     s,
		cursor:   cur,
		recorder: recorder,
		logger:   logger.With("component", "dispatcher", "sink", s.Name()),
		tracer:   tracing.Tracer("chainrelay/sink"),
	}
}

// Dispatch delivers every event of b, then commits b.Point. An empty batch
// still commits. On error the cursor is left where it was.
func (d *Dispatcher) Dispatch(ctx context.Context, b *domain.Batch) error {
	ctx, span := d.tracer.Start(ctx, "sink.dispatch", trace.WithAttributes(
		attribute.Int64("chain.slot", int64(b.Point.Slot)),
		attribute.Int64("chain.block_number", int64(b.BlockNumber)),
		attribute.Int("events", len(b.Events)),
	))
	defer span.End()

	for _, ev := range b.Events {
		start := time.Now()
		if err := d.sink.Deliver(ctx, ev); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("deliver %s at %s: %w", ev.Kind, b.Point.String(), err)
		}
		d.recorder.DeliveryLatency(d.sink.Name(), time.Since(start))
		d.delivered.Add(1)
	}

	if err := d.cursor.Commit(ctx, b.Point); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Run dispatches batches from in until it is closed or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, in <-chan *domain.Batch) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-in:
			if !ok {
				return nil
			}
			if err := d.Dispatch(ctx, b); err != nil {
				if !errors.Is(err, context.Canceled) {
					d.logger.Error("Dispatch failed", "point", b.Point.String(), "error", err)
				}
				return err
			}
			d.logger.Debug("Block delivered", "point", b.Point.String(), "events", len(b.Events))
		}
	}
}

// Delivered returns the number of events accepted by the sink.
func (d *Dispatcher) Delivered() int64 {
	return d.delivered.Load()
}
