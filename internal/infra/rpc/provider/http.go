package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vietddude/chainrelay/internal/indexing/recovery"
)

// HTTPProvider implements JSON-RPC 2.0 over HTTP.
type HTTPProvider struct {
	*NodeHealth
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// NewHTTPProvider creates a new HTTP-based RPC provider. The timeout bounds a
// single request, including long-poll waits.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		NodeHealth: NewNodeHealth(name),
		endpoint:   endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Call makes a single JSON-RPC call and returns the raw result.
// Non-2xx responses are returned as *recovery.HTTPStatusError and error
// objects as *RPCError.
func (p *HTTPProvider) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	start := time.Now()

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      p.nextID.Add(1),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.RecordFailure()
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.RecordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		p.RecordFailure()
		return nil, &recovery.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		p.RecordFailure()
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if rpcResp.Error != nil {
		p.RecordFailure()
		return nil, rpcResp.Error
	}

	p.RecordSuccess(time.Since(start))
	return rpcResp.Result, nil
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
