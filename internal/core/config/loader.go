package config

import (
	"fmt"
	"os"
	"time"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", domain.ErrConfig, err)
	}
	return Parse(data)
}

// Parse decodes YAML content, expands environment variables, applies
// defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", domain.ErrConfig, err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) setDefaults() {
	if c.Source.Type == "" {
		c.Source.Type = SourceN2N
	}
	if c.Source.Timeout == 0 {
		c.Source.Timeout = Duration(30 * time.Second)
	}
	if c.Source.Intersect.Type == "" {
		c.Source.Intersect.Type = domain.IntersectTip
	}
	if c.Source.Reconnect.MaxAttempts == 0 {
		c.Source.Reconnect.MaxAttempts = 20
	}
	if c.Source.Reconnect.InitialDelay == 0 {
		c.Source.Reconnect.InitialDelay = Duration(time.Second)
	}
	if c.Source.Reconnect.MaxDelay == 0 {
		c.Source.Reconnect.MaxDelay = Duration(time.Minute)
	}

	if c.Sink.Type == "" {
		c.Sink.Type = SinkTerminal
	}
	if c.Sink.Timeout == 0 {
		c.Sink.Timeout = Duration(30 * time.Second)
	}
	if c.Sink.BackoffDelay == 0 {
		c.Sink.BackoffDelay = Duration(5 * time.Second)
	}
	if c.Sink.MaxBackoff == 0 {
		c.Sink.MaxBackoff = Duration(5 * time.Minute)
	}
	if c.Sink.ErrorPolicy == "" {
		c.Sink.ErrorPolicy = PolicyExit
	}
	if c.Sink.Stream == "" {
		c.Sink.Stream = "chainrelay:events"
	}
	if c.Sink.Table == "" {
		c.Sink.Table = "events"
	}

	if c.Cursor.Type == "" {
		c.Cursor.Type = CursorFile
		if c.Cursor.Path == "" {
			c.Cursor.Path = DefaultCursorPath
		}
	}
	if c.Cursor.Key == "" {
		c.Cursor.Key = "chainrelay"
	}

	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = "/metrics"
	}
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = 64
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks required fields per selected variant.
func (c *AppConfig) Validate() error {
	switch c.Source.Type {
	case SourceN2N, SourceGRPC:
	default:
		return fmt.Errorf("%w: unknown source type %q", domain.ErrConfig, c.Source.Type)
	}
	if c.Source.Address == "" {
		return fmt.Errorf("%w: source.address is required", domain.ErrConfig)
	}
	if _, err := domain.LookupChain(c.Source.Magic); err != nil {
		return err
	}
	if err := c.Source.Intersect.Policy().Validate(); err != nil {
		return err
	}

	for i, f := range c.Filters {
		switch f.Type {
		case "Fingerprint", "Dedup":
		case "Selection":
			if f.Mode != "" && f.Mode != "keep" && f.Mode != "drop" {
				return fmt.Errorf("%w: filters[%d]: mode must be keep or drop", domain.ErrConfig, i)
			}
		default:
			return fmt.Errorf("%w: filters[%d]: unknown type %q", domain.ErrConfig, i, f.Type)
		}
	}

	switch c.Sink.Type {
	case SinkAssert, SinkTerminal:
	case SinkWebhook:
		if c.Sink.URL == "" {
			return fmt.Errorf("%w: sink.url is required for Webhook", domain.ErrConfig)
		}
		if c.Sink.MaxRetries < 0 {
			return fmt.Errorf("%w: sink.max_retries must not be negative", domain.ErrConfig)
		}
		if c.Sink.ErrorPolicy != PolicyExit && c.Sink.ErrorPolicy != PolicyContinue {
			return fmt.Errorf("%w: unknown sink.error_policy %q", domain.ErrConfig, c.Sink.ErrorPolicy)
		}
	case SinkRedis:
		if c.Sink.Redis.URL == "" {
			return fmt.Errorf("%w: sink.redis.url is required for Redis", domain.ErrConfig)
		}
	case SinkPostgres:
		if c.Sink.Database.URL == "" {
			return fmt.Errorf("%w: sink.database.url is required for Postgres", domain.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown sink type %q", domain.ErrConfig, c.Sink.Type)
	}

	switch c.Cursor.Type {
	case CursorMemory:
	case CursorFile:
		if c.Cursor.Path == "" {
			return fmt.Errorf("%w: cursor.path is required for File", domain.ErrConfig)
		}
	case CursorRedis:
		if c.Cursor.Redis.URL == "" {
			return fmt.Errorf("%w: cursor.redis.url is required for Redis", domain.ErrConfig)
		}
	case CursorPostgres:
		if c.Cursor.Database.URL == "" {
			return fmt.Errorf("%w: cursor.database.url is required for Postgres", domain.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown cursor type %q", domain.ErrConfig, c.Cursor.Type)
	}
	return nil
}
