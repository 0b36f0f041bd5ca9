package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/vietddude/chainrelay/internal/core/config"
	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/metrics"
	"github.com/vietddude/chainrelay/internal/indexing/recovery"
	"github.com/vietddude/chainrelay/internal/indexing/sink"
	redisclient "github.com/vietddude/chainrelay/internal/infra/redis"
	"github.com/vietddude/chainrelay/internal/infra/storage"
	"github.com/vietddude/chainrelay/internal/infra/storage/file"
	"github.com/vietddude/chainrelay/internal/infra/storage/memory"
	"github.com/vietddude/chainrelay/internal/infra/storage/postgres"
)

// OpenCursor opens the configured cursor backend. Closing the repository
// releases any connection opened for it.
func OpenCursor(ctx context.Context, cfg config.CursorConfig) (storage.CursorRepository, error) {
	switch cfg.Type {
	case config.CursorMemory:
		return memory.NewCursorRepo(), nil

	case config.CursorFile:
		repo, err := file.NewCursorRepo(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCursorPersist, err)
		}
		return repo, nil

	case config.CursorRedis:
		client, err := redisclient.NewClient(ctx, cfg.Redis, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCursorPersist, err)
		}
		return &closingCursorRepo{
			CursorRepository: redisclient.NewCursorRepo(client, cfg.Key),
			close:            client.Close,
		}, nil

	case config.CursorPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCursorPersist, err)
		}
		if err := postgres.Migrate(db.DB.DB); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %v", domain.ErrCursorPersist, err)
		}
		return postgres.NewCursorRepo(db, cfg.Key), nil

	default:
		return nil, fmt.Errorf("%w: unknown cursor type %q", domain.ErrConfig, cfg.Type)
	}
}

// closingCursorRepo closes a connection owned by the repository.
type closingCursorRepo struct {
	storage.CursorRepository
	close func() error
}

func (r *closingCursorRepo) Close() error {
	if err := r.CursorRepository.Close(); err != nil {
		return err
	}
	return r.close()
}

type closingEventRepo struct {
	storage.EventRepository
	close func() error
}

func (r *closingEventRepo) Close() error {
	if err := r.EventRepository.Close(); err != nil {
		return err
	}
	return r.close()
}

// SinkOptions carry what the sink factory needs besides the sink section.
type SinkOptions struct {
	// RequireFingerprint makes the Assert sink check fingerprints, set when
	// a Fingerprint filter runs ahead of it.
	RequireFingerprint bool
	// RunID is shared with the pipeline so webhook requests and logs agree.
	RunID    string
	Recorder metrics.Recorder
	Logger   *slog.Logger
}

// NewSink builds the configured sink.
func NewSink(ctx context.Context, cfg config.SinkConfig, opts SinkOptions) (sink.Sink, error) {
	retry := sink.RetryConfig{
		MaxRetries:    cfg.MaxRetries,
		BackoffDelay:  cfg.BackoffDelay.Std(),
		BackoffFactor: cfg.BackoffFactor,
		MaxBackoff:    cfg.MaxBackoff.Std(),
	}

	switch cfg.Type {
	case config.SinkAssert:
		return sink.NewAssert(sink.AssertConfig{
			BreakOnFailure:     cfg.BreakOnFailure,
			RequireFingerprint: opts.RequireFingerprint,
		}, opts.Recorder, opts.Logger), nil

	case config.SinkWebhook:
		return sink.NewWebhook(sink.WebhookConfig{
			URL:           cfg.URL,
			Headers:       cfg.Headers,
			Timeout:       cfg.Timeout.Std(),
			Retry:         retry,
			RateLimit:     cfg.RateLimit,
			SkipOnFailure: cfg.ErrorPolicy == config.PolicyContinue,
			RunID:         opts.RunID,
		}, opts.Recorder, opts.Logger), nil

	case config.SinkTerminal:
		return sink.NewTerminal(os.Stdout, cfg.Width, os.Getenv("NO_COLOR") == ""), nil

	case config.SinkRedis:
		client, err := redisclient.NewClient(ctx, cfg.Redis, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("redis sink: %w", err)
		}
		repo := &closingEventRepo{
			EventRepository: redisclient.NewStreamRepo(client, cfg.Stream, cfg.MaxLen, cfg.DedupTTL.Std()),
			close:           client.Close,
		}
		return sink.NewStore("redis", repo, retry, opts.Recorder, opts.Logger), nil

	case config.SinkPostgres:
		repo, err := postgres.NewEventRepo(ctx, cfg.Database, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("postgres sink: %w", err)
		}
		return sink.NewStore("postgres", repo, retry, opts.Recorder, opts.Logger), nil

	default:
		return nil, fmt.Errorf("%w: unknown sink type %q", domain.ErrConfig, cfg.Type)
	}
}

// reconnectStrategy maps source.reconnect onto an exponential backoff.
func reconnectStrategy(cfg config.ReconnectConfig) recovery.RetryStrategy {
	b := recovery.DefaultBackoff(nil)
	b.MaxRetries = cfg.MaxAttempts
	if d := cfg.InitialDelay.Std(); d > 0 {
		b.InitialDelay = d
	}
	if d := cfg.MaxDelay.Std(); d > 0 {
		b.MaxDelay = d
	}
	return b
}
