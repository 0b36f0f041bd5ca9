package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_TOKEN", "secret-token")

	path := writeConfig(t, `
source:
  address: http://relay:3001
sink:
  type: Webhook
  url: https://example.org/events
  headers:
    Authorization: "Bearer ${TEST_WEBHOOK_TOKEN}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.Sink.Headers["Authorization"]; got != "Bearer secret-token" {
		t.Errorf("Expected expanded header, got %s", got)
	}
}

func TestLoad_FullPipeline(t *testing.T) {
	path := writeConfig(t, `
source:
  type: N2N
  address: http://relay:3001
  magic: mainnet
  min_depth: 6
  finalize:
    max_block_quantity: 100
  intersect:
    type: Fallbacks
    value:
      - [4492799, "f8084c61b6a238acec985b59310b6ecec49c0ab8352249afd7268da5cff2a457"]
      - [4490688, "aa83acbf5904c0edfe4d79b3689d3d00fcfc553cf360fd2229b98d464c28e9de"]
  mapper:
    include_transaction_details: true
filters:
  - type: Fingerprint
  - type: Selection
    mode: keep
    predicate:
      variant_in: [Transaction]
sink:
  type: Webhook
  url: https://example.org/events
  timeout: 30000
  max_retries: 30
  backoff_delay: 5000
cursor:
  type: File
  path: /var/lib/chainrelay/cursor.json
metrics:
  address: 0.0.0.0:9186
  endpoint: /metrics
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Source.MinDepth != 6 {
		t.Errorf("Expected min_depth 6, got %d", cfg.Source.MinDepth)
	}
	if cfg.Source.Finalize.MaxBlockQuantity != 100 {
		t.Errorf("Expected max_block_quantity 100, got %d", cfg.Source.Finalize.MaxBlockQuantity)
	}
	policy := cfg.Source.Intersect.Policy()
	if policy.Kind != domain.IntersectFallbacks || len(policy.Points) != 2 {
		t.Fatalf("Unexpected intersect policy: %+v", policy)
	}
	if policy.Points[1].Slot != 4490688 {
		t.Errorf("Expected second fallback slot 4490688, got %d", policy.Points[1].Slot)
	}
	if cfg.Sink.Timeout.Std() != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", cfg.Sink.Timeout.Std())
	}
	if cfg.Sink.BackoffDelay.Std() != 5*time.Second {
		t.Errorf("Expected 5s backoff, got %v", cfg.Sink.BackoffDelay.Std())
	}
	if cfg.Sink.MaxRetries != 30 {
		t.Errorf("Expected 30 retries, got %d", cfg.Sink.MaxRetries)
	}
	if len(cfg.Filters) != 2 || cfg.Filters[1].Predicate == nil {
		t.Errorf("Expected two filters with a predicate, got %+v", cfg.Filters)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
source:
  address: http://relay:3001
  intersect:
    type: Point
    value: [100, "abcd"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source.Type != SourceN2N {
		t.Errorf("Expected default source N2N, got %s", cfg.Source.Type)
	}
	if cfg.Sink.Type != SinkTerminal {
		t.Errorf("Expected default sink Terminal, got %s", cfg.Sink.Type)
	}
	if cfg.Cursor.Type != CursorFile || cfg.Cursor.Path != DefaultCursorPath {
		t.Errorf("Expected default File cursor at %s, got %s %q", DefaultCursorPath, cfg.Cursor.Type, cfg.Cursor.Path)
	}
	if cfg.Pipeline.QueueSize != 64 {
		t.Errorf("Expected queue size 64, got %d", cfg.Pipeline.QueueSize)
	}
	if pts := cfg.Source.Intersect.Value; len(pts) != 1 || pts[0].Slot != 100 {
		t.Errorf("Expected single point at slot 100, got %+v", pts)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing address": `
source:
  type: N2N
`,
		"webhook without url": `
source:
  address: http://relay
sink:
  type: Webhook
`,
		"file cursor without path": `
source:
  address: http://relay
cursor:
  type: File
`,
		"fallbacks without points": `
source:
  address: http://relay
  intersect:
    type: Fallbacks
`,
		"unknown filter": `
source:
  address: http://relay
filters:
  - type: Magic
`,
		"bad duration": `
source:
  address: http://relay
  timeout: soon
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, domain.ErrConfig) {
				t.Errorf("Expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, domain.ErrConfig) {
		t.Errorf("Expected ErrConfig, got %v", err)
	}
}
