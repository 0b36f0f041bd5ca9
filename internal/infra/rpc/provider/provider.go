// Package provider implements the transports used to reach a chain-sync
// node.
//
// This package contains:
//   - NodeHealth: health and latency tracking shared by all transports
//   - HTTPProvider: JSON-RPC 2.0 over HTTP
//   - GRPCProvider: a gRPC client connection
package provider

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider is the part of a transport the health endpoint reports on.
type Provider interface {
	// GetName returns provider identifier (e.g., "n2n", "grpc")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// Close cleans up resources
	Close() error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`

	ConsecutiveFailures int `json:"consecutive_failures"`
}

// RPCError is an error object returned by a JSON-RPC peer.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
