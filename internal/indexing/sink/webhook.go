package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/metrics"
	"github.com/vietddude/chainrelay/internal/indexing/recovery"
	"github.com/vietddude/chainrelay/internal/infra/tracing"
)

// RunHeader carries an id shared by every request of one process.
const RunHeader = "X-Chainrelay-Run"

// WebhookConfig configures the HTTP sink.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Retry   RetryConfig
	// RateLimit is in requests per second; 0 disables limiting.
	RateLimit float64
	// SkipOnFailure logs and drops an event once retries are exhausted
	// instead of stopping the pipeline.
	SkipOnFailure bool
	// RunID is sent in RunHeader. Empty generates one.
	RunID string
}

// Webhook POSTs each event as JSON.
type Webhook struct {
	cfg      WebhookConfig
	client   *http.Client
	strategy recovery.RetryStrategy
	sleep    recovery.Sleeper
	limiter  *rate.Limiter
	runID    string
	recorder metrics.Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
}

// WebhookOption customises a Webhook.
type WebhookOption func(*Webhook)

// WithSleeper replaces the backoff sleep.
func WithSleeper(s recovery.Sleeper) WebhookOption {
	return func(w *Webhook) { w.sleep = s }
}

// WithHTTPClient replaces the HTTP client. Timeout still applies per request.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// NewWebhook creates the sink.
func NewWebhook(cfg WebhookConfig, recorder metrics.Recorder, logger *slog.Logger, opts ...WebhookOption) *Webhook {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	w := &Webhook{
		cfg:      cfg,
		client:   &http.Client{},
		strategy: cfg.Retry.Strategy(),
		sleep:    recovery.Sleep,
		runID:    runID,
		recorder: recorder,
		logger:   logger.With("component", "webhook"),
		tracer:   tracing.Tracer("chainrelay/webhook"),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Name() string { return "webhook" }

// RunID returns the value sent in RunHeader.
func (w *Webhook) RunID() string { return w.runID }

// Deliver implements Sink.
func (w *Webhook) Deliver(ctx context.Context, ev *domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", domain.ErrSinkDelivery, err)
	}

	attempts, err := recovery.Do(ctx, w.strategy, w.sleep,
		func(ctx context.Context, attempt int) error {
			return w.post(ctx, body, attempt)
		},
		func(retry int, err error, delay time.Duration) {
			w.recorder.DeliveryRetry(w.Name())
			w.logger.Warn("Webhook delivery failed, retrying",
				"slot", ev.Context.Slot, "kind", ev.Kind, "retry", retry+1, "delay", delay, "error", err)
		},
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.recorder.DeliveryFailure(w.Name())
	if w.cfg.SkipOnFailure {
		w.logger.Error("Webhook delivery abandoned, skipping event",
			"slot", ev.Context.Slot, "kind", ev.Kind, "attempts", attempts, "error", err)
		return nil
	}
	return fmt.Errorf("%w: webhook gave up after %d attempts: %v", domain.ErrSinkDelivery, attempts, err)
}

func (w *Webhook) post(ctx context.Context, body []byte, attempt int) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	ctx, span := w.tracer.Start(ctx, "webhook.post", trace.WithAttributes(
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RunHeader, w.runID)
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}
	tracing.Inject(ctx, req.Header)

	resp, err := w.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := &recovery.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close releases idle connections.
func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
