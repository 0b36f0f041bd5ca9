// Package n2n follows a node through a JSON-RPC chain-sync bridge.
//
// The bridge holds the node-to-node connection and exposes the
// mini-protocol as long-poll JSON-RPC calls. chainsync_requestNext blocks on
// the bridge side until the node replies or the bridge's poll window ends,
// in which case the reply direction is "await" and the call is re-issued.
package n2n

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/chainsync"
	"github.com/vietddude/chainrelay/internal/indexing/recovery"
	"github.com/vietddude/chainrelay/internal/infra/rpc/provider"
)

// Config configures the bridge client.
type Config struct {
	Address string
	Timeout time.Duration
}

// Dialer opens bridge sessions over a shared HTTP provider.
type Dialer struct {
	provider *provider.HTTPProvider
	logger   *slog.Logger
}

// NewDialer creates a dialer for the bridge at cfg.Address.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		provider: provider.NewHTTPProvider("n2n", cfg.Address, cfg.Timeout),
		logger:   logger.With("component", "n2n"),
	}
}

var _ chainsync.Dialer = (*Dialer)(nil)

// Dial returns a session. The bridge allocates it on the first
// FindIntersect, so Dial does no I/O.
func (d *Dialer) Dial(ctx context.Context) (chainsync.Session, error) {
	return &Session{provider: d.provider, logger: d.logger}, nil
}

// Provider exposes the transport for health reporting.
func (d *Dialer) Provider() provider.Provider {
	return d.provider
}

// Session is one bridge session.
type Session struct {
	provider *provider.HTTPProvider
	logger   *slog.Logger
	id       string
}

func (s *Session) call(ctx context.Context, method string, params, out any) error {
	raw, err := s.provider.Call(ctx, method, params)
	if err != nil {
		return recovery.AsConnectionError(method, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// FindIntersect implements chainsync.Session.
func (s *Session) FindIntersect(ctx context.Context, points []domain.Point) (*domain.Point, domain.Tip, error) {
	var result FindIntersectResult
	params := FindIntersectParams{Session: s.id, Points: points}
	if err := s.call(ctx, MethodFindIntersect, params, &result); err != nil {
		return nil, domain.Tip{}, err
	}
	if result.Session != "" {
		s.id = result.Session
	}
	return result.Intersection, result.Tip, nil
}

// RequestNext implements chainsync.Session, re-issuing the call while the
// bridge answers "await".
func (s *Session) RequestNext(ctx context.Context) (domain.RollEvent, error) {
	if s.id == "" {
		return domain.RollEvent{}, fmt.Errorf("request next before intersection")
	}
	for {
		var result RequestNextResult
		if err := s.call(ctx, MethodRequestNext, SessionParams{Session: s.id}, &result); err != nil {
			return domain.RollEvent{}, err
		}
		ev, ok, err := result.ToRollEvent()
		if err != nil {
			return domain.RollEvent{}, fmt.Errorf("%w: %w", domain.ErrDecode, err)
		}
		if ok {
			return ev, nil
		}
		if err := ctx.Err(); err != nil {
			return domain.RollEvent{}, err
		}
	}
}

// Close releases the bridge session. Failures are logged only.
func (s *Session) Close() error {
	if s.id == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ignored json.RawMessage
	if err := s.call(ctx, MethodClose, SessionParams{Session: s.id}, &ignored); err != nil {
		s.logger.Debug("Failed to close bridge session", "session", s.id, "error", err)
	}
	s.id = ""
	return nil
}
