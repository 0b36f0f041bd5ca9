// Package pipeline drives chain-sync sessions through the finalizer, mapper,
// filter chain and sink, and reconnects when the node connection drops.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chainrelay/internal/core/cursor"
	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/chainsync"
	"github.com/vietddude/chainrelay/internal/indexing/filter"
	"github.com/vietddude/chainrelay/internal/indexing/finalizer"
	"github.com/vietddude/chainrelay/internal/indexing/mapper"
	"github.com/vietddude/chainrelay/internal/indexing/metrics"
	"github.com/vietddude/chainrelay/internal/indexing/recovery"
	"github.com/vietddude/chainrelay/internal/indexing/sink"
)

// DefaultQueueSize is the capacity of each inter-stage channel.
const DefaultQueueSize = 64

// Config holds the pipeline collaborators.
type Config struct {
	Network   string
	Dialer    chainsync.Dialer
	Policy    domain.IntersectPolicy
	Finalize  finalizer.Config
	Mapper    *mapper.Mapper
	Filters   *filter.Chain
	Sink      sink.Sink
	Cursor    cursor.Manager
	QueueSize int

	// Reconnect bounds the reconnect loop. Nil uses recovery.DefaultBackoff.
	Reconnect recovery.RetryStrategy
	// Sleep waits between reconnects. Nil uses recovery.Sleep.
	Sleep recovery.Sleeper

	// RunID tags logs and status. Empty generates one.
	RunID string

	Recorder metrics.Recorder
	Logger   *slog.Logger
}

// Pipeline implements Runner.
type Pipeline struct {
	cfg         Config
	runID       string
	logger      *slog.Logger
	recorder    metrics.Recorder
	resolver    *chainsync.Resolver
	dispatcher  *sink.Dispatcher
	reconnector *recovery.Reconnector
	state       *machine

	running atomic.Bool
	depth   atomic.Int64

	// pinned is the first resolved start point. Later sessions resume from
	// it until a cursor is committed, so a moving tip cannot open a gap.
	pinned *domain.Point

	mu      sync.Mutex
	cancel  context.CancelFunc
	tip     *domain.Tip
	lastErr error
}

var _ Runner = (*Pipeline)(nil)

// commitNotifier is implemented by cursor managers that report stored commits.
type commitNotifier interface {
	SetCommitCallback(fn func(domain.Point))
}

// NewPipeline creates a pipeline. Dialer, Mapper, Sink and Cursor are
// required.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.Nop{}
	}
	if cfg.Filters == nil {
		cfg.Filters = filter.NewChain()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = recovery.DefaultBackoff(nil)
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := cfg.Logger.With("component", "pipeline", "network", cfg.Network, "run_id", runID)

	p := &Pipeline{
		cfg:         cfg,
		runID:       runID,
		logger:      logger,
		recorder:    cfg.Recorder,
		resolver:    chainsync.NewResolver(cfg.Policy, cfg.Logger),
		dispatcher:  sink.NewDispatcher(cfg.Sink, cfg.Cursor, cfg.Recorder, cfg.Logger),
		reconnector: recovery.NewReconnector(cfg.Reconnect, cfg.Sleep),
		state:       newMachine(domain.StateResolving),
	}
	cfg.Filters.OnDrop(func(stage string, _ *domain.Event) {
		p.recorder.EventDropped(stage)
	})
	if n, ok := cfg.Cursor.(commitNotifier); ok {
		n.SetCommitCallback(func(pt domain.Point) {
			p.recorder.CursorSlot(pt.Slot)
		})
	}
	p.state.setCallback(p.onTransition)
	p.recorder.PipelineState(string(domain.StateResolving))
	return p
}

// OnStateChange registers fn to observe every accepted state transition,
// after the built-in logging.
func (p *Pipeline) OnStateChange(fn func(Transition)) {
	p.state.setCallback(func(t Transition) {
		p.onTransition(t)
		fn(t)
	})
}

func (p *Pipeline) onTransition(t Transition) {
	p.recorder.PipelineState(string(t.To))
	p.logger.Info("Pipeline state changed", "from", t.From, "to", t.To, "reason", t.Reason)
}

// enter moves the state machine, logging rejected transitions.
func (p *Pipeline) enter(to State, reason string) {
	if err := p.state.transition(to, reason); err != nil {
		p.logger.Error("Rejected state transition", "error", err)
	}
}

// Run implements Runner.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already running")
	}
	defer p.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Info("Pipeline starting", "policy", p.cfg.Policy.Kind, "min_depth", p.cfg.Finalize.MinDepth)

	for {
		before := p.cfg.Cursor.Current()
		err := p.session(ctx)
		if ctx.Err() != nil {
			p.enter(domain.StateTerminated, "shutdown")
			p.logger.Info("Pipeline stopped", "cursor", pointString(p.cfg.Cursor.Current()))
			return nil
		}
		if err == nil {
			err = fmt.Errorf("%w: session ended", domain.ErrConnection)
		}
		p.setLastErr(err)

		if domain.IsFatal(err) {
			return p.fail(err)
		}

		if advanced(before, p.cfg.Cursor.Current()) {
			p.reconnector.Reset()
		}
		p.enter(domain.StateReconnecting, err.Error())
		p.recorder.Reconnect()
		if werr := p.reconnector.Wait(ctx, err); werr != nil {
			if ctx.Err() != nil {
				p.enter(domain.StateTerminated, "shutdown")
				return nil
			}
			return p.fail(werr)
		}
	}
}

func (p *Pipeline) fail(err error) error {
	p.setLastErr(err)
	p.recorder.FatalError(errorKind(err))
	p.enter(domain.StateTerminated, err.Error())
	p.logger.Error("Pipeline terminated", "error", err, "cursor", pointString(p.cfg.Cursor.Current()))
	return err
}

// session runs one connection from resolution until it fails or ctx ends.
func (p *Pipeline) session(ctx context.Context) error {
	p.enter(domain.StateResolving, "")

	stored, err := p.cfg.Cursor.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	var resume *domain.Cursor
	switch {
	case stored != nil:
		resume = &domain.Cursor{Point: *stored}
	case p.pinned != nil:
		resume = &domain.Cursor{Point: *p.pinned}
	}

	session, err := p.cfg.Dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer session.Close()

	start, err := p.resolver.Resolve(ctx, session, resume)
	if err != nil {
		return err
	}
	if p.pinned == nil {
		pinned := start
		p.pinned = &pinned
	}

	p.enter(domain.StateConnecting, start.String())
	reader := chainsync.NewReader(session, start, p.cfg.Logger)
	tip, err := reader.Start(ctx)
	if err != nil {
		return err
	}
	p.observeTip(tip)

	fin := finalizer.New(p.cfg.Finalize, start)
	p.depth.Store(0)
	p.enter(domain.StateStreaming, start.String())

	rolls := make(chan domain.RollEvent, p.cfg.QueueSize)
	batches := make(chan *domain.Batch, p.cfg.QueueSize)

	// A dropped connection closes rolls so the later stages drain and commit
	// what was already confirmed. It is reported after they finish.
	var lost error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(rolls)
		err := reader.Run(gctx, rolls)
		if errors.Is(err, domain.ErrConnection) {
			lost = err
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer close(batches)
		return p.transform(gctx, fin, start, rolls, batches)
	})
	g.Go(func() error {
		return p.dispatcher.Run(gctx, batches)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return lost
}

// transform applies the finalizer, mapper and filter chain in chain order.
func (p *Pipeline) transform(ctx context.Context, fin *finalizer.Finalizer, start domain.Point, in <-chan domain.RollEvent, out chan<- *domain.Batch) error {
	last := start
	for {
		var ev domain.RollEvent
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-in:
			if !ok {
				return nil
			}
			ev = e
		}
		p.observeTip(ev.Tip)

		switch ev.Kind {
		case domain.RollForward:
			last = ev.Block.Point
		case domain.RollBackward:
			// The first reply of a session confirms the intersection.
			if !ev.Point.Equal(last) {
				p.recorder.Rollback()
				p.logger.Warn("Chain rolled back", "from", last.String(), "to", ev.Point.String(), "buffered", fin.Depth())
			}
			last = ev.Point
		}

		released, err := fin.Apply(ev)
		if err != nil {
			return err
		}
		p.depth.Store(int64(fin.Depth()))
		p.recorder.FinalizerDepth(fin.Depth())

		for _, raw := range released {
			batch, err := p.cfg.Mapper.Map(raw)
			if err != nil {
				return err
			}
			p.recorder.BlockFinalized(raw.Point.Slot)
			countKinds(p.recorder, batch)

			batch = p.cfg.Filters.ApplyBatch(batch)
			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func countKinds(r metrics.Recorder, b *domain.Batch) {
	counts := make(map[domain.EventKind]int)
	var order []domain.EventKind
	for _, ev := range b.Events {
		if counts[ev.Kind] == 0 {
			order = append(order, ev.Kind)
		}
		counts[ev.Kind]++
	}
	for _, kind := range order {
		r.EventsProcessed(string(kind), counts[kind])
	}
}

func (p *Pipeline) observeTip(tip domain.Tip) {
	p.mu.Lock()
	t := tip
	p.tip = &t
	p.mu.Unlock()
	p.recorder.ChainTip(tip.Point.Slot)
}

func (p *Pipeline) setLastErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
}

// Stop implements Runner.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// RunID identifies this process in logs and webhook headers.
func (p *Pipeline) RunID() string {
	return p.runID
}

// GetStatus implements Runner.
func (p *Pipeline) GetStatus() Status {
	state, since, _ := p.state.snapshot()
	st := Status{
		Network:         p.cfg.Network,
		RunID:           p.runID,
		Running:         p.running.Load(),
		State:           state,
		StateSince:      since,
		Description:     StateDescription(state),
		Cursor:          p.cfg.Cursor.Current(),
		FinalizerDepth:  int(p.depth.Load()),
		Reconnects:      p.reconnector.Failures(),
		EventsDelivered: p.dispatcher.Delivered(),
		CursorMetrics:   p.cfg.Cursor.GetMetrics(),
	}

	p.mu.Lock()
	if p.tip != nil {
		tip := *p.tip
		st.Tip = &tip
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	p.mu.Unlock()

	if st.Tip != nil && st.Cursor != nil && st.Tip.Point.Slot > st.Cursor.Slot {
		st.LagSlots = st.Tip.Point.Slot - st.Cursor.Slot
	}
	return st
}

func advanced(before, after *domain.Point) bool {
	if after == nil {
		return false
	}
	return before == nil || !before.Equal(*after)
}

func pointString(p *domain.Point) string {
	if p == nil {
		return "none"
	}
	return p.String()
}

// errorKind labels fatal errors for the fatal_errors_total counter.
func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrConfig):
		return "config"
	case errors.Is(err, domain.ErrIntersection):
		return "intersection"
	case errors.Is(err, domain.ErrRollbackBeyondWindow):
		return "rollback_beyond_window"
	case errors.Is(err, domain.ErrAssertion):
		return "assertion"
	case errors.Is(err, domain.ErrSinkDelivery):
		return "sink_delivery"
	case errors.Is(err, domain.ErrCursorPersist):
		return "cursor_persist"
	case errors.Is(err, domain.ErrDecode):
		return "decode"
	case errors.Is(err, domain.ErrConnection):
		return "connection"
	default:
		return "other"
	}
}
