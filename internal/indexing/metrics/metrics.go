// Package metrics exposes the operational counters of a pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives pipeline measurements. Implementations must be safe for
// concurrent use by the pipeline stages.
type Recorder interface {
	EventsProcessed(kind string, n int)
	EventDropped(stage string)
	BlockFinalized(slot uint64)
	Rollback()
	Reconnect()
	DeliveryRetry(sink string)
	DeliveryFailure(sink string)
	DeliveryLatency(sink string, d time.Duration)
	AssertionFailure(check string)
	FatalError(kind string)
	ChainTip(slot uint64)
	CursorSlot(slot uint64)
	FinalizerDepth(n int)
	PipelineState(state string)
}

// States reported through the pipeline_state gauge, one series per state.
var States = []string{"resolving", "connecting", "streaming", "reconnecting", "terminated"}

// Prometheus records into a prometheus registry.
type Prometheus struct {
	eventsProcessed   *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	blocksFinalized   prometheus.Counter
	lastFinalizedSlot prometheus.Gauge
	rollbacks         prometheus.Counter
	reconnects        prometheus.Counter
	deliveryRetries   *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
	deliveryLatency   *prometheus.HistogramVec
	assertionFailures *prometheus.CounterVec
	fatalErrors       *prometheus.CounterVec
	chainTip          prometheus.Gauge
	cursorSlot        prometheus.Gauge
	finalizerDepth    prometheus.Gauge
	state             *prometheus.GaugeVec
}

// NewPrometheus registers the pipeline collectors with reg. network is
// attached as a constant label.
func NewPrometheus(reg prometheus.Registerer, network string) *Prometheus {
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"network": network}, reg))

	return &Prometheus{
		eventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainrelay",
			Name:      "events_processed_total",
			Help:      "Total events produced by the mapper",
		}, []string{"kind"}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainrelay",
			Name:      "events_dropped_total",
			Help:      "Total events dropped by a filter stage",
		}, []string{"stage"}),
		blocksFinalized: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chainrelay",
			Name:      "blocks_finalized_total",
			Help:      "Total blocks released by the finalizer",
		}),
		lastFinalizedSlot: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainrelay",
			Name:      "finalized_slot",
			Help:      "Slot of the last finalized block",
		}),
		rollbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chainrelay",
			Name:      "rollbacks_total",
			Help:      "Total rollbacks received from the node",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chainrelay",
			Name:      "reconnects_total",
			Help:      "Total reconnect attempts after a connection error",
		}),
		deliveryRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainrelay",
			Subsystem: "sink",
			Name:      "retries_total",
			Help:      "Total delivery retries",
		}, []string{"sink"}),
		deliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainrelay",
			Subsystem: "sink",
			Name:      "failures_total",
			Help:      "Total deliveries abandoned after retry exhaustion",
		}, []string{"sink"}),
		deliveryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chainrelay",
			Subsystem: "sink",
			Name:      "delivery_duration_seconds",
			Help:      "Event delivery duration including retries",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"sink"}),
		assertionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainrelay",
			Subsystem: "sink",
			Name:      "assertion_failures_total",
			Help:      "Total failed chain consistency checks",
		}, []string{"check"}),
		fatalErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainrelay",
			Name:      "fatal_errors_total",
			Help:      "Total errors that terminated the pipeline",
		}, []string{"kind"}),
		chainTip: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainrelay",
			Name:      "chain_tip_slot",
			Help:      "Tip slot last reported by the node",
		}),
		cursorSlot: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainrelay",
			Name:      "cursor_slot",
			Help:      "Slot of the committed cursor",
		}),
		finalizerDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chainrelay",
			Name:      "finalizer_depth",
			Help:      "Blocks buffered awaiting confirmation",
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chainrelay",
			Name:      "pipeline_state",
			Help:      "1 for the current pipeline state",
		}, []string{"state"}),
	}
}

func (p *Prometheus) EventsProcessed(kind string, n int) {
	p.eventsProcessed.WithLabelValues(kind).Add(float64(n))
}

func (p *Prometheus) EventDropped(stage string) {
	p.eventsDropped.WithLabelValues(stage).Inc()
}

func (p *Prometheus) BlockFinalized(slot uint64) {
	p.blocksFinalized.Inc()
	p.lastFinalizedSlot.Set(float64(slot))
}

func (p *Prometheus) Rollback()  { p.rollbacks.Inc() }
func (p *Prometheus) Reconnect() { p.reconnects.Inc() }

func (p *Prometheus) DeliveryRetry(sink string) {
	p.deliveryRetries.WithLabelValues(sink).Inc()
}

func (p *Prometheus) DeliveryFailure(sink string) {
	p.deliveryFailures.WithLabelValues(sink).Inc()
}

func (p *Prometheus) DeliveryLatency(sink string, d time.Duration) {
	p.deliveryLatency.WithLabelValues(sink).Observe(d.Seconds())
}

func (p *Prometheus) AssertionFailure(check string) {
	p.assertionFailures.WithLabelValues(check).Inc()
}

func (p *Prometheus) FatalError(kind string) {
	p.fatalErrors.WithLabelValues(kind).Inc()
}

func (p *Prometheus) ChainTip(slot uint64)   { p.chainTip.Set(float64(slot)) }
func (p *Prometheus) CursorSlot(slot uint64) { p.cursorSlot.Set(float64(slot)) }
func (p *Prometheus) FinalizerDepth(n int)   { p.finalizerDepth.Set(float64(n)) }

// PipelineState sets the gauge of state to 1 and every other state to 0.
func (p *Prometheus) PipelineState(state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		p.state.WithLabelValues(s).Set(v)
	}
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) EventsProcessed(string, int)           {}
func (Nop) EventDropped(string)                   {}
func (Nop) BlockFinalized(uint64)                 {}
func (Nop) Rollback()                             {}
func (Nop) Reconnect()                            {}
func (Nop) DeliveryRetry(string)                  {}
func (Nop) DeliveryFailure(string)                {}
func (Nop) DeliveryLatency(string, time.Duration) {}
func (Nop) AssertionFailure(string)               {}
func (Nop) FatalError(string)                     {}
func (Nop) ChainTip(uint64)                       {}
func (Nop) CursorSlot(uint64)                     {}
func (Nop) FinalizerDepth(int)                    {}
func (Nop) PipelineState(string)                  {}

var (
	_ Recorder = (*Prometheus)(nil)
	_ Recorder = Nop{}
)
