package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vietddude/chainrelay/internal/core/domain"
	redisclient "github.com/vietddude/chainrelay/internal/infra/redis"
	"github.com/vietddude/chainrelay/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Source   SourceConfig   `yaml:"source"`
	Filters  []FilterConfig `yaml:"filters"`
	Sink     SinkConfig     `yaml:"sink"`
	Cursor   CursorConfig   `yaml:"cursor"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// TracingConfig points at an OTLP collector. Empty endpoint disables export.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	Address  string `yaml:"address"`
	Endpoint string `yaml:"endpoint"`
}

// PipelineConfig tunes the stage queues.
type PipelineConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// SourceType selects the chain-sync transport.
type SourceType string

const (
	SourceN2N  SourceType = "N2N"
	SourceGRPC SourceType = "GRPC"
)

// SourceConfig describes the upstream node.
type SourceConfig struct {
	Type      SourceType      `yaml:"type"`
	Address   string          `yaml:"address"`
	Magic     string          `yaml:"magic"`
	MinDepth  uint64          `yaml:"min_depth"`
	Timeout   Duration        `yaml:"timeout"`
	Finalize  FinalizeConfig  `yaml:"finalize"`
	Intersect IntersectConfig `yaml:"intersect"`
	Mapper    MapperConfig    `yaml:"mapper"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// FinalizeConfig bounds the unconfirmed block buffer.
type FinalizeConfig struct {
	MaxBlockQuantity uint64 `yaml:"max_block_quantity"` // 0 = unset
}

// IntersectConfig is the resume policy used when no cursor is stored.
type IntersectConfig struct {
	Type  domain.IntersectKind `yaml:"type"`
	Value IntersectValue       `yaml:"value"`
}

// IntersectValue holds a single [slot, hash] pair or a list of them.
type IntersectValue []domain.Point

// UnmarshalYAML accepts both a single point and a list of points.
func (v *IntersectValue) UnmarshalYAML(unmarshal func(any) error) error {
	var list []domain.Point
	if err := unmarshal(&list); err == nil {
		*v = list
		return nil
	}
	var single domain.Point
	if err := unmarshal(&single); err != nil {
		return err
	}
	*v = []domain.Point{single}
	return nil
}

// Policy converts the configuration into a domain policy.
func (c IntersectConfig) Policy() domain.IntersectPolicy {
	return domain.IntersectPolicy{Kind: c.Type, Points: []domain.Point(c.Value)}
}

// MapperConfig controls event payload richness.
type MapperConfig struct {
	IncludeTransactionDetails bool `yaml:"include_transaction_details"`
	IncludeBlockDetails       bool `yaml:"include_block_details"`
	IncludeBlockCBOR          bool `yaml:"include_block_cbor"`
	IncludeTransactionEnd     bool `yaml:"include_transaction_end_events"`
	IncludeBlockEnd           bool `yaml:"include_block_end_events"`
}

// ReconnectConfig bounds the reconnect loop.
type ReconnectConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
}

// FilterConfig is one stage of the filter chain.
type FilterConfig struct {
	Type      string         `yaml:"type"`
	Mode      string         `yaml:"mode"`      // Selection: keep or drop
	Predicate map[string]any `yaml:"predicate"` // Selection
	Capacity  int            `yaml:"capacity"`  // Dedup
}

// SinkType selects the delivery target.
type SinkType string

const (
	SinkAssert   SinkType = "Assert"
	SinkWebhook  SinkType = "Webhook"
	SinkTerminal SinkType = "Terminal"
	SinkRedis    SinkType = "Redis"
	SinkPostgres SinkType = "Postgres"
)

// ErrorPolicy decides what happens once retries are exhausted.
type ErrorPolicy string

const (
	PolicyExit     ErrorPolicy = "Exit"
	PolicyContinue ErrorPolicy = "Continue"
)

// SinkConfig carries the fields of every sink variant; Type picks which
// ones apply.
type SinkConfig struct {
	Type SinkType `yaml:"type"`

	// Assert
	BreakOnFailure bool `yaml:"break_on_failure"`

	// Webhook
	URL           string            `yaml:"url"`
	Headers       map[string]string `yaml:"headers"`
	Timeout       Duration          `yaml:"timeout"`
	MaxRetries    int               `yaml:"max_retries"`
	BackoffDelay  Duration          `yaml:"backoff_delay"`
	BackoffFactor float64           `yaml:"backoff_factor"`
	MaxBackoff    Duration          `yaml:"max_backoff"`
	RateLimit     float64           `yaml:"rate_limit"` // requests per second, 0 = unlimited
	ErrorPolicy   ErrorPolicy       `yaml:"error_policy"`

	// Terminal
	Width int `yaml:"width"`

	// Redis
	Redis    redisclient.Config `yaml:"redis"`
	Stream   string             `yaml:"stream"`
	MaxLen   int64              `yaml:"max_len"`
	DedupTTL Duration           `yaml:"dedup_ttl"` // how long appended fingerprints are remembered

	// Postgres
	Database postgres.Config `yaml:"database"`
	Table    string          `yaml:"table"`
}

// CursorType selects the cursor backend.
type CursorType string

const (
	CursorFile     CursorType = "File"
	CursorMemory   CursorType = "Memory"
	CursorRedis    CursorType = "Redis"
	CursorPostgres CursorType = "Postgres"
)

// DefaultCursorPath is used when no cursor is configured, so a restart
// resumes instead of starting over.
const DefaultCursorPath = "chainrelay.cursor.json"

// CursorConfig selects where the resume point lives.
type CursorConfig struct {
	Type     CursorType         `yaml:"type"`
	Path     string             `yaml:"path"`
	Key      string             `yaml:"key"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
}

// Duration accepts Go duration strings ("5s") or integer milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
