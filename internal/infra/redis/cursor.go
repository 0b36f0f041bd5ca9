package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/infra/storage"
)

// CursorRepo implements storage.CursorRepository with a single SET of a
// JSON record, which Redis applies atomically.
type CursorRepo struct {
	client *Client
	key    string
}

// NewCursorRepo creates a Redis-backed cursor repository.
func NewCursorRepo(client *Client, name string) *CursorRepo {
	return &CursorRepo{
		client: client,
		key:    cursorKey(name),
	}
}

type cursorRecord struct {
	Slot      uint64 `json:"slot"`
	Hash      string `json:"hash"`
	UpdatedAt int64  `json:"updated_at"`
}

func encodeCursor(c *domain.Cursor) ([]byte, error) {
	return json.Marshal(cursorRecord{
		Slot:      c.Point.Slot,
		Hash:      c.Point.HashHex(),
		UpdatedAt: c.UpdatedAt.Unix(),
	})
}

func decodeCursor(data []byte) (*domain.Cursor, error) {
	var rec cursorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cursor: %w", err)
	}
	p, err := domain.NewPoint(rec.Slot, rec.Hash)
	if err != nil {
		return nil, err
	}
	return &domain.Cursor{Point: p, UpdatedAt: time.Unix(rec.UpdatedAt, 0)}, nil
}

// Load reads the stored cursor.
func (r *CursorRepo) Load(ctx context.Context) (*domain.Cursor, error) {
	data, err := r.client.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	return decodeCursor(data)
}

// Save overwrites the stored cursor.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	data, err := encodeCursor(cursor)
	if err != nil {
		return fmt.Errorf("failed to marshal cursor: %w", err)
	}
	if err := r.client.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (r *CursorRepo) Close() error {
	return nil
}
