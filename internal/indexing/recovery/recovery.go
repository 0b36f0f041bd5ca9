// Package recovery classifies failures and drives bounded retries for
// connection and delivery errors.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FailureCategory tells a retry loop whether to try again.
type FailureCategory int

const (
	CategoryTransient FailureCategory = iota
	CategoryTerminal
)

func (c FailureCategory) String() string {
	if c == CategoryTerminal {
		return "terminal"
	}
	return "transient"
}

// Classifier maps an error to a category.
type Classifier func(err error) FailureCategory

// HTTPStatusError is a non-2xx response from an HTTP peer.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Classify is the default classifier for transport errors. Unknown errors are
// treated as transient.
func Classify(err error) FailureCategory {
	if err == nil {
		return CategoryTransient
	}
	if errors.Is(err, context.Canceled) {
		return CategoryTerminal
	}
	if errors.Is(err, domain.ErrConnection) {
		return CategoryTransient
	}
	if isDomainError(err) {
		return CategoryTerminal
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode >= 500:
			return CategoryTransient
		default:
			return CategoryTerminal
		}
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
			codes.Aborted, codes.Internal:
			return CategoryTransient
		default:
			return CategoryTerminal
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryTransient
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryTransient
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrIntersection,
		domain.ErrRollbackBeyondWindow,
		domain.ErrSinkDelivery,
		domain.ErrAssertion,
		domain.ErrCursorPersist,
		domain.ErrConfig,
		domain.ErrDecode,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// AsConnectionError wraps transient transport failures with
// domain.ErrConnection so the driver reconnects. Terminal ones are returned
// unchanged.
func AsConnectionError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrConnection) {
		return err
	}
	if Classify(err) == CategoryTransient {
		return fmt.Errorf("%w: %s: %w", domain.ErrConnection, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op until it succeeds, the strategy gives up, or ctx is done.
// onRetry, when set, is called before each wait.
func Do(
	ctx context.Context,
	strategy RetryStrategy,
	sleep Sleeper,
	op func(ctx context.Context, attempt int) error,
	onRetry func(retry int, err error, delay time.Duration),
) (attempts int, err error) {
	if sleep == nil {
		sleep = Sleep
	}
	for retry := 0; ; retry++ {
		attempts++
		err = op(ctx, attempts)
		if err == nil {
			return attempts, nil
		}
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		if !strategy.ShouldRetry(err, retry) {
			return attempts, err
		}

		delay := strategy.GetDelay(retry)
		if onRetry != nil {
			onRetry(retry, err, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return attempts, serr
		}
	}
}
