package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Reconnector paces session rebuilds after connection failures. The budget
// is per outage: Reset after a session makes progress.
type Reconnector struct {
	strategy RetryStrategy
	sleep    Sleeper

	mu       sync.Mutex
	failures int
}

// NewReconnector creates a reconnect pacer.
func NewReconnector(strategy RetryStrategy, sleep Sleeper) *Reconnector {
	if sleep == nil {
		sleep = Sleep
	}
	return &Reconnector{strategy: strategy, sleep: sleep}
}

// Wait records a failure and sleeps for the next backoff delay. It returns a
// non-nil error once the strategy gives up or ctx is cancelled.
func (r *Reconnector) Wait(ctx context.Context, cause error) error {
	r.mu.Lock()
	failures := r.failures
	r.failures++
	r.mu.Unlock()

	if !r.strategy.ShouldRetry(cause, failures) {
		return fmt.Errorf("giving up after %d reconnect attempts: %w", failures, cause)
	}

	delay := r.strategy.GetDelay(failures)
	slog.Warn("Connection lost, reconnecting",
		"attempt", failures+1,
		"delay", delay.Round(time.Millisecond),
		"error", cause,
	)
	return r.sleep(ctx, delay)
}

// Reset clears the failure count.
func (r *Reconnector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
}

// Failures returns the failures recorded since the last Reset.
func (r *Reconnector) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}
