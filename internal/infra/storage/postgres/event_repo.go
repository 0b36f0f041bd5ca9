package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/vietddude/chainrelay/internal/core/domain"
)

// EventRepo stores delivered events through a pgx pool. Inserts are keyed
// by fingerprint so a redelivered block does not duplicate rows.
type EventRepo struct {
	pool  *pgxpool.Pool
	table string
}

// NewEventRepo connects, applies migrations and prepares the target table.
func NewEventRepo(ctx context.Context, cfg Config, table string) (*EventRepo, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// goose needs database/sql; borrow a handle backed by the same pool.
	sqlDB := stdlib.OpenDBFromPool(pool)
	migrateErr := Migrate(sqlDB)
	_ = sqlDB.Close()
	if migrateErr != nil {
		pool.Close()
		return nil, migrateErr
	}

	if table == "" {
		table = "events"
	}
	if table != "events" {
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (LIKE events INCLUDING ALL)", quoteTable(table))
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}

	return &EventRepo{pool: pool, table: table}, nil
}

func quoteTable(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func insertStatement(table string) string {
	return fmt.Sprintf(
		`INSERT INTO %s (fingerprint, slot, block_hash, kind, payload) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (fingerprint) DO NOTHING`,
		quoteTable(table),
	)
}

// Insert stores one event. The event must carry a fingerprint.
func (r *EventRepo) Insert(ctx context.Context, event *domain.Event) error {
	if event.Fingerprint == "" {
		return fmt.Errorf("event at slot %d has no fingerprint", event.Context.Slot)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = r.pool.Exec(ctx, insertStatement(r.table),
		event.Fingerprint,
		int64(event.Context.Slot),
		event.Context.BlockHash,
		string(event.Kind),
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Close closes the pool.
func (r *EventRepo) Close() error {
	r.pool.Close()
	return nil
}
