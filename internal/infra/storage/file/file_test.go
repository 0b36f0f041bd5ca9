package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/infra/storage"
)

func TestCursorRepo_LoadMissing(t *testing.T) {
	repo, err := NewCursorRepo(filepath.Join(t.TempDir(), "state", "cursor.json"))
	require.NoError(t, err)

	_, err = repo.Load(context.Background())
	assert.ErrorIs(t, err, storage.ErrCursorNotFound)
}

func TestCursorRepo_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	repo, err := NewCursorRepo(path)
	require.NoError(t, err)

	ctx := context.Background()
	want := domain.MustPoint(4492799, "f8084c61b6a238acec985b59310b6ecec49c0ab8352249afd7268da5cff2a457")
	require.NoError(t, repo.Save(ctx, &domain.Cursor{Point: want, UpdatedAt: time.Now()}))

	// A fresh instance reads what the previous process wrote.
	other, err := NewCursorRepo(path)
	require.NoError(t, err)
	got, err := other.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.Point.Equal(want))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"slot":4492799`)
	assert.Contains(t, string(raw), `"hash":"f8084c61`)
}

func TestCursorRepo_OverwriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewCursorRepo(filepath.Join(dir, "cursor.json"))
	require.NoError(t, err)

	ctx := context.Background()
	for slot := uint64(1); slot <= 5; slot++ {
		require.NoError(t, repo.Save(ctx, &domain.Cursor{Point: domain.Point{Slot: slot, Hash: []byte{byte(slot)}}}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cursor.json", entries[0].Name())

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.Point.Slot)
}

func TestCursorRepo_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	repo, err := NewCursorRepo(path)
	require.NoError(t, err)
	_, err = repo.Load(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrCursorNotFound)
}
