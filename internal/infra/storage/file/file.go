// Package file stores the cursor as a small JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/infra/storage"
)

type record struct {
	Slot      uint64    `json:"slot"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// CursorRepo persists the cursor at a fixed path. Writes go to a temp file
// in the same directory, are fsynced and renamed over the target.
type CursorRepo struct {
	path string
}

// NewCursorRepo creates the parent directory if needed.
func NewCursorRepo(path string) (*CursorRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cursor directory: %w", err)
	}
	return &CursorRepo{path: path}, nil
}

// Load reads the stored record.
func (r *CursorRepo) Load(ctx context.Context) (*domain.Cursor, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor file: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse cursor file %s: %w", r.path, err)
	}
	p, err := domain.NewPoint(rec.Slot, rec.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cursor file %s: %w", r.path, err)
	}
	return &domain.Cursor{Point: p, UpdatedAt: rec.UpdatedAt}, nil
}

// Save atomically replaces the stored record.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	data, err := json.Marshal(record{
		Slot:      cursor.Point.Slot,
		Hash:      cursor.Point.HashHex(),
		UpdatedAt: cursor.UpdatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode cursor: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".cursor-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cursor file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp cursor file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp cursor file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp cursor file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("failed to replace cursor file: %w", err)
	}

	// Persist the rename itself.
	if dir, err := os.Open(filepath.Dir(r.path)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}

// Close is a no-op; the file is not held open between commits.
func (r *CursorRepo) Close() error {
	return nil
}
