// Package chain builds the chain-sync transport selected by configuration.
package chain

import (
	"fmt"
	"log/slog"

	"github.com/vietddude/chainrelay/internal/core/config"
	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/chainsync"
	"github.com/vietddude/chainrelay/internal/infra/chain/grpcsync"
	"github.com/vietddude/chainrelay/internal/infra/chain/n2n"
	"github.com/vietddude/chainrelay/internal/infra/rpc/provider"
)

// Adapter is a chain-sync dialer together with the transport it uses.
type Adapter interface {
	chainsync.Dialer

	// Provider exposes transport health for the status endpoint.
	Provider() provider.Provider
}

// NewAdapter creates the adapter for the source type.
func NewAdapter(cfg config.SourceConfig, logger *slog.Logger) (Adapter, error) {
	switch cfg.Type {
	case config.SourceN2N:
		return n2n.NewDialer(n2n.Config{
			Address: cfg.Address,
			Timeout: cfg.Timeout.Std(),
		}, logger), nil
	case config.SourceGRPC:
		return grpcsync.NewDialer(cfg.Address, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported source type %q", domain.ErrConfig, cfg.Type)
	}
}
