package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/filter"
	"github.com/vietddude/chainrelay/internal/indexing/metrics"
	"github.com/vietddude/chainrelay/internal/indexing/recovery"
	"github.com/vietddude/chainrelay/internal/infra/storage"
)

// Store appends events to an EventRepository (a Redis stream or a Postgres
// table). Repositories dedupe on the fingerprint, so redelivery is safe.
type Store struct {
	name     string
	repo     storage.EventRepository
	strategy recovery.RetryStrategy
	sleep    recovery.Sleeper
	recorder metrics.Recorder
	logger   *slog.Logger
}

// NewStore creates a store-backed sink.
func NewStore(name string, repo storage.EventRepository, retry RetryConfig, recorder metrics.Recorder, logger *slog.Logger) *Store {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		name:     name,
		repo:     repo,
		strategy: retry.Strategy(),
		sleep:    recovery.Sleep,
		recorder: recorder,
		logger:   logger.With("component", name),
	}
}

func (s *Store) Name() string { return s.name }

// Deliver implements Sink. Events without a fingerprint get one here since
// the repositories key on it.
func (s *Store) Deliver(ctx context.Context, ev *domain.Event) error {
	if ev.Fingerprint == "" {
		fp, err := filter.ComputeFingerprint(ev)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSinkDelivery, err)
		}
		ev = ev.WithFingerprint(fp)
	}

	attempts, err := recovery.Do(ctx, s.strategy, s.sleep,
		func(ctx context.Context, _ int) error {
			return s.repo.Insert(ctx, ev)
		},
		func(retry int, err error, delay time.Duration) {
			s.recorder.DeliveryRetry(s.name)
			s.logger.Warn("Insert failed, retrying", "slot", ev.Context.Slot, "retry", retry+1, "delay", delay, "error", err)
		},
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.recorder.DeliveryFailure(s.name)
	return fmt.Errorf("%w: %s gave up after %d attempts: %v", domain.ErrSinkDelivery, s.name, attempts, err)
}

func (s *Store) Close() error {
	return s.repo.Close()
}
