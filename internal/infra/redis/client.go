package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key chainrelay writes.
const keyPrefix = "chainrelay"

// Client is the connection shared by the cursor store and the stream sink.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// Config holds Redis connection settings.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// DB overrides the database number in URL when non-zero.
	DB int `yaml:"db"`
	// DialTimeout bounds the startup ping. Zero means 5s.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// NewClient connects and pings, so a bad address fails at startup instead
// of on the first commit.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	logger = logger.With("component", "redis", "addr", opts.Addr, "db", opts.DB)
	logger.Debug("Connected to redis")
	return &Client{rdb: rdb, logger: logger}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// cursorKey holds the resume point of the named relay.
func cursorKey(name string) string {
	return fmt.Sprintf("%s:cursor:%s", keyPrefix, name)
}

// seenKey marks a fingerprint as appended to stream.
func seenKey(stream, fingerprint string) string {
	return fmt.Sprintf("%s:seen:%s:%s", keyPrefix, stream, fingerprint)
}
