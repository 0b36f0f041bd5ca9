package provider

import (
	"crypto/tls"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCProvider holds a gRPC client connection.
// Users should get the connection via Conn() and open their own streams.
type GRPCProvider struct {
	*NodeHealth
	endpoint string
	conn     *grpc.ClientConn
}

// NewGRPCProvider creates a new gRPC provider. The connection is established
// lazily on the first RPC.
func NewGRPCProvider(name, endpoint string, extra ...grpc.DialOption) (*GRPCProvider, error) {
	// Parse endpoint to determine if TLS is needed
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	return &GRPCProvider{
		NodeHealth: NewNodeHealth(name),
		endpoint:   endpoint,
		conn:       conn,
	}, nil
}

// Conn returns the underlying gRPC connection.
func (p *GRPCProvider) Conn() *grpc.ClientConn {
	return p.conn
}

// Close cleans up resources.
func (p *GRPCProvider) Close() error {
	return p.conn.Close()
}
