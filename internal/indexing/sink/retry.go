package sink

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/chainrelay/internal/indexing/recovery"
)

// RetryConfig bounds delivery attempts of sinks that talk to a remote.
type RetryConfig struct {
	MaxRetries    int
	BackoffDelay  time.Duration
	BackoffFactor float64
	MaxBackoff    time.Duration
}

// Strategy returns a fixed interval when BackoffFactor <= 1, exponential
// otherwise. Every failure except cancellation is retried.
func (c RetryConfig) Strategy() recovery.RetryStrategy {
	classifier := func(err error) recovery.FailureCategory {
		if errors.Is(err, context.Canceled) {
			return recovery.CategoryTerminal
		}
		return recovery.CategoryTransient
	}
	if c.BackoffFactor <= 1 {
		return recovery.FixedBackoff(c.BackoffDelay, c.MaxRetries, classifier)
	}
	return &recovery.ExponentialBackoff{
		InitialDelay: c.BackoffDelay,
		MaxDelay:     c.MaxBackoff,
		Factor:       c.BackoffFactor,
		MaxRetries:   c.MaxRetries,
		Classifier:   classifier,
	}
}
