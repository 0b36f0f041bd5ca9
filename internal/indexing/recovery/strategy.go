package recovery

import (
	"math"
	"time"
)

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay before the given retry (0-indexed).
	GetDelay(retry int) time.Duration

	// ShouldRetry checks if we should retry based on the error and the number
	// of retries already performed.
	ShouldRetry(err error, retries int) bool
}

// ExponentialBackoff multiplies InitialDelay by Factor per retry, capped at
// MaxDelay. A Factor of 1 gives a fixed interval.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	MaxRetries   int
	Classifier   Classifier
}

// DefaultBackoff returns the reconnect defaults: 1s, 2s, 4s ... capped at 60s.
func DefaultBackoff(classifier Classifier) *ExponentialBackoff {
	if classifier == nil {
		// Everything is transient unless the caller says otherwise
		classifier = func(err error) FailureCategory {
			return CategoryTransient
		}
	}
	return &ExponentialBackoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Factor:       2,
		MaxRetries:   20,
		Classifier:   classifier,
	}
}

// FixedBackoff waits the same delay between every retry.
func FixedBackoff(delay time.Duration, maxRetries int, classifier Classifier) *ExponentialBackoff {
	b := DefaultBackoff(classifier)
	b.InitialDelay = delay
	b.MaxDelay = delay
	b.Factor = 1
	b.MaxRetries = maxRetries
	return b
}

// GetDelay calculates delay: InitialDelay * Factor^retry
func (s *ExponentialBackoff) GetDelay(retry int) time.Duration {
	factor := s.Factor
	if factor < 1 {
		factor = 1
	}
	delay := float64(s.InitialDelay) * math.Pow(factor, float64(retry))
	if s.MaxDelay > 0 && delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is transient and max retries not exceeded.
func (s *ExponentialBackoff) ShouldRetry(err error, retries int) bool {
	if retries >= s.MaxRetries {
		return false
	}
	if s.Classifier == nil {
		return true
	}
	return s.Classifier(err) == CategoryTransient
}
