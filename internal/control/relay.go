// Package control assembles a relay from configuration and owns its
// lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vietddude/chainrelay/internal/core/config"
	"github.com/vietddude/chainrelay/internal/core/cursor"
	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/filter"
	"github.com/vietddude/chainrelay/internal/indexing/finalizer"
	"github.com/vietddude/chainrelay/internal/indexing/health"
	"github.com/vietddude/chainrelay/internal/indexing/mapper"
	"github.com/vietddude/chainrelay/internal/indexing/metrics"
	"github.com/vietddude/chainrelay/internal/indexing/pipeline"
	"github.com/vietddude/chainrelay/internal/indexing/sink"
	"github.com/vietddude/chainrelay/internal/infra/chain"
	"github.com/vietddude/chainrelay/internal/infra/storage"
	"github.com/vietddude/chainrelay/internal/infra/tracing"
)

// Relay is the main application struct that manages the pipeline lifecycle.
type Relay struct {
	cfg          *config.AppConfig
	pipeline     *pipeline.Pipeline
	registry     *prometheus.Registry
	healthServer *health.Server
	adapter      chain.Adapter
	sink         sink.Sink
	cursorRepo   storage.CursorRepository
	shutdownOTel func(context.Context) error
	log          *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewRelay creates a relay with all dependencies initialized. Nothing
// talks to the node until Run.
func NewRelay(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (r *Relay, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	r = &Relay{cfg: cfg, log: logger.With("component", "relay")}
	// Undo partial initialization on any error below.
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.Close(closeCtx)
			r = nil
		}
	}()

	network, err := domain.LookupChain(cfg.Source.Magic)
	if err != nil {
		return r, err
	}

	// 1. Tracing
	r.shutdownOTel, err = tracing.Init(ctx, cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if err != nil {
		return r, fmt.Errorf("init tracing: %w", err)
	}

	// 2. Metrics
	r.registry = prometheus.NewRegistry()
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(r.registry, network.Name)

	// 3. Filters
	filters, err := filter.FromConfig(cfg.Filters)
	if err != nil {
		return r, err
	}
	fingerprinted := false
	for _, f := range cfg.Filters {
		if f.Type == "Fingerprint" {
			fingerprinted = true
		}
	}

	// 4. Cursor
	r.cursorRepo, err = OpenCursor(ctx, cfg.Cursor)
	if err != nil {
		return r, err
	}
	cursorMgr := cursor.NewManager(r.cursorRepo)
	runID := uuid.NewString()

	// 5. Sink
	r.sink, err = NewSink(ctx, cfg.Sink, SinkOptions{
		RequireFingerprint: fingerprinted,
		RunID:              runID,
		Recorder:           recorder,
		Logger:             logger,
	})
	if err != nil {
		return r, err
	}

	// 6. Source
	r.adapter, err = chain.NewAdapter(cfg.Source, logger)
	if err != nil {
		return r, err
	}

	// 7. Pipeline
	r.pipeline = pipeline.NewPipeline(pipeline.Config{
		Network: network.Name,
		Dialer:  r.adapter,
		Policy:  cfg.Source.Intersect.Policy(),
		Finalize: finalizer.Config{
			MinDepth:         cfg.Source.MinDepth,
			MaxBlockQuantity: cfg.Source.Finalize.MaxBlockQuantity,
		},
		Mapper: mapper.New(mapper.Config{
			IncludeTransactionDetails: cfg.Source.Mapper.IncludeTransactionDetails,
			IncludeBlockDetails:       cfg.Source.Mapper.IncludeBlockDetails,
			IncludeBlockCBOR:          cfg.Source.Mapper.IncludeBlockCBOR,
			IncludeTransactionEnd:     cfg.Source.Mapper.IncludeTransactionEnd,
			IncludeBlockEnd:           cfg.Source.Mapper.IncludeBlockEnd,
		}, network),
		Filters:   filters,
		Sink:      r.sink,
		Cursor:    cursorMgr,
		QueueSize: cfg.Pipeline.QueueSize,
		Reconnect: reconnectStrategy(cfg.Source.Reconnect),
		RunID:     runID,
		Recorder:  recorder,
		Logger:    logger,
	})

	// 8. Health server
	if cfg.Metrics.Address != "" {
		monitor := health.NewMonitor(r.pipeline, r.adapter.Provider(), health.DefaultThresholds)
		r.healthServer = health.NewServer(monitor, cfg.Metrics.Address, cfg.Metrics.Endpoint, r.registry, logger)
	}

	r.log.Info("Relay initialized",
		"network", network.Name,
		"source", cfg.Source.Type,
		"sink", cfg.Sink.Type,
		"cursor", cfg.Cursor.Type,
		"filters", filters.Len(),
		"run_id", r.pipeline.RunID(),
	)
	return r, nil
}

// Pipeline exposes the pipeline, for status reporting.
func (r *Relay) Pipeline() *pipeline.Pipeline {
	return r.pipeline
}

// Registry exposes the metrics registry.
func (r *Relay) Registry() *prometheus.Registry {
	return r.registry
}

// Run serves health endpoints and runs the pipeline until ctx ends or a
// fatal error stops it. Resources are released before it returns.
func (r *Relay) Run(ctx context.Context) error {
	if r.healthServer != nil {
		go func() {
			if err := r.healthServer.Start(); err != nil {
				r.log.Error("Health server failed", "error", err)
			}
		}()
	}

	runErr := r.pipeline.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.Close(closeCtx); err != nil {
		r.log.Warn("Error during shutdown", "error", err)
	}
	return runErr
}

// Close releases every resource the relay opened. It is safe on a partially
// initialized relay and runs once.
func (r *Relay) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { r.closeErr = r.close(ctx) })
	return r.closeErr
}

func (r *Relay) close(ctx context.Context) error {
	var errs []error
	if r.healthServer != nil {
		errs = append(errs, r.healthServer.Stop(ctx))
	}
	if r.sink != nil {
		errs = append(errs, r.sink.Close())
	}
	if r.adapter != nil {
		errs = append(errs, r.adapter.Provider().Close())
	}
	if r.cursorRepo != nil {
		errs = append(errs, r.cursorRepo.Close())
	}
	if r.shutdownOTel != nil {
		errs = append(errs, r.shutdownOTel(ctx))
	}
	return errors.Join(errs...)
}
