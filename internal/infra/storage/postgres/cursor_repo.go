package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/infra/storage"
)

// CursorRepo implements storage.CursorRepository as one row per relay name.
type CursorRepo struct {
	db   *DB
	name string
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB, name string) *CursorRepo {
	return &CursorRepo{db: db, name: name}
}

type cursorRow struct {
	Slot      int64     `db:"slot"`
	Hash      string    `db:"hash"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Load retrieves the stored cursor.
func (r *CursorRepo) Load(ctx context.Context) (*domain.Cursor, error) {
	var row cursorRow
	err := r.db.GetContext(ctx, &row,
		`SELECT slot, hash, updated_at FROM relay_cursors WHERE name = $1`, r.name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	p, err := domain.NewPoint(uint64(row.Slot), row.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}
	return &domain.Cursor{Point: p, UpdatedAt: row.UpdatedAt}, nil
}

// Save upserts the cursor row in a single statement.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO relay_cursors (name, slot, hash, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET slot = EXCLUDED.slot, hash = EXCLUDED.hash, updated_at = EXCLUDED.updated_at`,
		r.name, int64(cursor.Point.Slot), cursor.Point.HashHex(), cursor.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (r *CursorRepo) Close() error {
	return r.db.Close()
}
