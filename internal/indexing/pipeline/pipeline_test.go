package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/chainrelay/internal/core/cursor"
	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/core/ledger/ledgertest"
	"github.com/vietddude/chainrelay/internal/indexing/chainsync/chainsynctest"
	"github.com/vietddude/chainrelay/internal/indexing/filter"
	"github.com/vietddude/chainrelay/internal/indexing/finalizer"
	"github.com/vietddude/chainrelay/internal/indexing/mapper"
	"github.com/vietddude/chainrelay/internal/indexing/metrics"
	"github.com/vietddude/chainrelay/internal/indexing/recovery"
	"github.com/vietddude/chainrelay/internal/infra/storage/memory"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*domain.Event
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Close() error { return nil }

// blocks returns the slots and hashes of delivered block events.
func (s *recordingSink) blocks() ([]uint64, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var slots []uint64
	var hashes []string
	for _, ev := range s.events {
		if ev.Kind == domain.KindBlock {
			slots = append(slots, ev.Context.Slot)
			hashes = append(hashes, ev.Context.BlockHash)
		}
	}
	return slots, hashes
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type dropAll struct{}

func (dropAll) Name() string { return "drop_all" }

func (dropAll) Apply(ev *domain.Event) (*domain.Event, filter.Verdict) {
	return ev, filter.Drop
}

type slotRecorder struct {
	metrics.Nop
	mu    sync.Mutex
	slots []uint64
}

func (r *slotRecorder) CursorSlot(slot uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = append(r.slots, slot)
}

func (r *slotRecorder) cursorSlots() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.slots...)
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type harness struct {
	chain  []domain.RawBlock
	node   *chainsynctest.Node
	sink   *recordingSink
	repo   *memory.CursorRepo
	cursor *cursor.DefaultManager
	cfg    Config

	pipe   *Pipeline
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, blocks int) *harness {
	t.Helper()
	chain := ledgertest.Chain(100, blocks, ledgertest.SimpleTx(1, 2_000_000))
	h := &harness{
		chain: chain,
		node:  chainsynctest.NewNode(chain),
		sink:  &recordingSink{},
		repo:  memory.NewCursorRepo(),
	}
	h.cursor = cursor.NewManager(h.repo)
	h.cfg = Config{
		Network:   "mainnet",
		Dialer:    h.node,
		Policy:    domain.IntersectPolicy{Kind: domain.IntersectOrigin},
		Finalize:  finalizer.Config{MinDepth: 1},
		Mapper:    mapper.New(mapper.Config{}, domain.Mainnet),
		Sink:      h.sink,
		Cursor:    h.cursor,
		QueueSize: 4,
		Reconnect: recovery.FixedBackoff(time.Millisecond, 5, nil),
		Sleep:     noSleep,
	}
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if h.pipe == nil {
		h.pipe = NewPipeline(h.cfg)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.pipe.Run(ctx) }()
	t.Cleanup(cancel)
}

// wait returns the result of Run without cancelling it.
func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
		return nil
	}
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	if err := h.pipe.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	return h.wait(t)
}

func (h *harness) waitCursor(t *testing.T, want domain.Point) {
	t.Helper()
	waitFor(t, func() bool {
		cur := h.cursor.Current()
		return cur != nil && cur.Equal(want)
	}, "cursor at "+want.String())
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func slotsOf(blocks []domain.RawBlock) []uint64 {
	out := make([]uint64, len(blocks))
	for i, b := range blocks {
		out[i] = b.Point.Slot
	}
	return out
}

func equalSlots(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func forkBlock(t *testing.T, number, slot uint64, prev []byte) domain.RawBlock {
	t.Helper()
	body, hash, err := ledgertest.Encode(ledgertest.Block{Number: number, Slot: slot, PrevHash: prev})
	if err != nil {
		t.Fatalf("encode fork block: %v", err)
	}
	return domain.RawBlock{Point: domain.Point{Slot: slot, Hash: hash}, Body: body}
}

func TestPipeline_DeliversConfirmedBlocks(t *testing.T) {
	h := newHarness(t, 5)
	h.cfg.Finalize.MinDepth = 2
	h.start(t)

	h.waitCursor(t, h.chain[3].Point)
	if err := h.stop(t); err != nil {
		t.Fatalf("Run() error = %v, want nil on shutdown", err)
	}

	slots, _ := h.sink.blocks()
	if want := slotsOf(h.chain[:4]); !equalSlots(slots, want) {
		t.Errorf("delivered block slots = %v, want %v", slots, want)
	}

	st := h.pipe.GetStatus()
	if st.State != domain.StateTerminated {
		t.Errorf("state = %s, want terminated", st.State)
	}
	if st.Running {
		t.Error("status reports running after shutdown")
	}
	if st.Tip == nil || !st.Tip.Point.Equal(h.chain[4].Point) {
		t.Errorf("tip = %v, want %s", st.Tip, h.chain[4].Point.String())
	}
	if st.LagSlots != 10 {
		t.Errorf("lag = %d, want 10", st.LagSlots)
	}
	if st.EventsDelivered != int64(h.sink.count()) {
		t.Errorf("events delivered = %d, sink saw %d", st.EventsDelivered, h.sink.count())
	}
}

func TestPipeline_ReportsCursorCommits(t *testing.T) {
	h := newHarness(t, 4)
	rec := &slotRecorder{}
	h.cfg.Recorder = rec
	h.start(t)

	h.waitCursor(t, h.chain[3].Point)
	if err := h.stop(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got, want := rec.cursorSlots(), slotsOf(h.chain); !equalSlots(got, want) {
		t.Errorf("cursor gauge updates = %v, want %v", got, want)
	}

	st := h.pipe.GetStatus()
	if st.CursorMetrics.TotalCommits != 4 {
		t.Errorf("total commits = %d, want 4", st.CursorMetrics.TotalCommits)
	}
	if st.CursorMetrics.LastCommitAt == nil {
		t.Error("last commit time not reported")
	}
}

func TestPipeline_ResumesFromStoredCursor(t *testing.T) {
	h := newHarness(t, 6)
	if err := h.repo.Save(context.Background(), &domain.Cursor{Point: h.chain[2].Point}); err != nil {
		t.Fatal(err)
	}
	h.start(t)

	h.waitCursor(t, h.chain[5].Point)
	if err := h.stop(t); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	intersects := h.node.Intersects()
	if len(intersects) == 0 || len(intersects[0]) != 1 || !intersects[0][0].Equal(h.chain[2].Point) {
		t.Fatalf("first intersect = %v, want the stored cursor", intersects)
	}
	slots, _ := h.sink.blocks()
	if want := slotsOf(h.chain[3:]); !equalSlots(slots, want) {
		t.Errorf("delivered block slots = %v, want %v", slots, want)
	}
}

func TestPipeline_RestartDoesNotRedeliver(t *testing.T) {
	h := newHarness(t, 4)
	h.start(t)
	h.waitCursor(t, h.chain[3].Point)
	if err := h.stop(t); err != nil {
		t.Fatal(err)
	}

	last := h.chain[3].Point
	next := forkBlock(t, 5, last.Slot+10, last.Hash)
	h.node.Extend(next)

	second := &recordingSink{}
	h.cursor = cursor.NewManager(h.repo)
	cfg := h.cfg
	cfg.Sink = second
	cfg.Cursor = h.cursor
	h.pipe = NewPipeline(cfg)
	h.start(t)
	h.waitCursor(t, next.Point)
	if err := h.stop(t); err != nil {
		t.Fatal(err)
	}

	slots, _ := second.blocks()
	if want := []uint64{next.Point.Slot}; !equalSlots(slots, want) {
		t.Errorf("second run delivered %v, want only %v", slots, want)
	}
}

func TestPipeline_FallbacksUseFirstPointOnChain(t *testing.T) {
	h := newHarness(t, 4)
	unknown := domain.Point{Slot: 105, Hash: []byte{0xde, 0xad}}
	h.cfg.Policy = domain.IntersectPolicy{
		Kind:   domain.IntersectFallbacks,
		Points: []domain.Point{unknown, h.chain[1].Point},
	}
	h.start(t)

	h.waitCursor(t, h.chain[3].Point)
	if err := h.stop(t); err != nil {
		t.Fatal(err)
	}

	intersects := h.node.Intersects()
	if len(intersects) < 2 || !intersects[0][0].Equal(unknown) || !intersects[1][0].Equal(h.chain[1].Point) {
		t.Fatalf("intersects = %v, want the fallbacks tried in order", intersects)
	}
	slots, _ := h.sink.blocks()
	if want := slotsOf(h.chain[2:]); !equalSlots(slots, want) {
		t.Errorf("delivered block slots = %v, want %v", slots, want)
	}
}

func TestPipeline_NoFallbackOnChainIsFatal(t *testing.T) {
	h := newHarness(t, 2)
	h.cfg.Policy = domain.IntersectPolicy{
		Kind:   domain.IntersectFallbacks,
		Points: []domain.Point{{Slot: 7, Hash: []byte{0x01}}},
	}
	h.start(t)

	err := h.wait(t)
	if !errors.Is(err, domain.ErrIntersection) {
		t.Fatalf("Run() error = %v, want ErrIntersection", err)
	}
	if h.node.Dials() != 1 {
		t.Errorf("dials = %d, want no reconnect on a fatal error", h.node.Dials())
	}
}

func TestPipeline_ReconnectsAndResumes(t *testing.T) {
	h := newHarness(t, 8)
	// Intersection reply plus three blocks, then the connection resets.
	h.node.DropAfter(4)
	h.start(t)

	h.waitCursor(t, h.chain[7].Point)
	if err := h.stop(t); err != nil {
		t.Fatal(err)
	}

	if h.node.Dials() != 2 {
		t.Errorf("dials = %d, want 2", h.node.Dials())
	}
	slots, _ := h.sink.blocks()
	if want := slotsOf(h.chain); !equalSlots(slots, want) {
		t.Errorf("delivered block slots = %v, want each block exactly once %v", slots, want)
	}
	if got := h.pipe.GetStatus().Reconnects; got != 1 {
		t.Errorf("reconnects = %d, want 1", got)
	}
}

func TestPipeline_TipPolicySurvivesReconnect(t *testing.T) {
	full := ledgertest.Chain(100, 8, ledgertest.SimpleTx(1, 2_000_000))
	h := newHarness(t, 3)
	h.node = chainsynctest.NewNode(full[:3])
	h.cfg.Dialer = h.node
	h.cfg.Policy = domain.IntersectPolicy{Kind: domain.IntersectTip}
	h.cfg.Finalize.MinDepth = 3
	// Intersection reply plus two blocks, then the connection resets while
	// both are still buffered.
	h.node.DropAfter(3)
	h.start(t)

	waitFor(t, func() bool { return len(h.node.Intersects()) >= 2 }, "first session streaming")
	h.node.Extend(full[3:]...)

	h.waitCursor(t, full[5].Point)
	if err := h.stop(t); err != nil {
		t.Fatal(err)
	}

	intersects := h.node.Intersects()
	if len(intersects) < 3 || len(intersects[2]) != 1 || !intersects[2][0].Equal(full[2].Point) {
		t.Errorf("reconnect intersect = %v, want the first session's start %s", intersects, full[2].Point.String())
	}
	slots, _ := h.sink.blocks()
	if want := slotsOf(full[3:6]); !equalSlots(slots, want) {
		t.Errorf("delivered block slots = %v, want %v", slots, want)
	}
}

func TestPipeline_GivesUpAfterReconnectBudget(t *testing.T) {
	h := newHarness(t, 3)
	h.node.RefuseDials(10)
	h.cfg.Reconnect = recovery.FixedBackoff(time.Millisecond, 3, nil)
	h.start(t)

	err := h.wait(t)
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("Run() error = %v, want ErrConnection", err)
	}
	if h.node.Dials() != 4 {
		t.Errorf("dials = %d, want 4", h.node.Dials())
	}
	st := h.pipe.GetStatus()
	if st.State != domain.StateTerminated || st.LastError == "" {
		t.Errorf("status = %+v, want terminated with an error", st)
	}
}

func TestPipeline_RollbackWithinWindowDropsOrphans(t *testing.T) {
	h := newHarness(t, 4)
	h.cfg.Finalize.MinDepth = 3
	h.start(t)

	// b1 and b2 are released once b4 has been read; b3 and b4 stay buffered.
	h.waitCursor(t, h.chain[1].Point)

	base := h.chain[2].Point
	f1 := forkBlock(t, 4, base.Slot+5, base.Hash)
	f2 := forkBlock(t, 5, base.Slot+15, f1.Point.Hash)
	f3 := forkBlock(t, 6, base.Slot+25, f2.Point.Hash)
	h.node.RollbackTo(base)
	h.node.Extend(f1, f2, f3)

	h.waitCursor(t, f1.Point)
	if err := h.stop(t); err != nil {
		t.Fatal(err)
	}

	slots, hashes := h.sink.blocks()
	want := []uint64{h.chain[0].Point.Slot, h.chain[1].Point.Slot, base.Slot, f1.Point.Slot}
	if !equalSlots(slots, want) {
		t.Errorf("delivered block slots = %v, want %v", slots, want)
	}
	orphan := h.chain[3].Point.HashHex()
	for _, hash := range hashes {
		if hash == orphan {
			t.Errorf("orphaned block %s was delivered", orphan)
		}
	}
}

func TestPipeline_RollbackBeyondWindowIsFatal(t *testing.T) {
	h := newHarness(t, 4)
	h.start(t)
	h.waitCursor(t, h.chain[3].Point)

	h.node.RollbackTo(h.chain[1].Point)

	err := h.wait(t)
	if !errors.Is(err, domain.ErrRollbackBeyondWindow) {
		t.Fatalf("Run() error = %v, want ErrRollbackBeyondWindow", err)
	}
	if cur := h.cursor.Current(); cur == nil || !cur.Equal(h.chain[3].Point) {
		t.Errorf("cursor = %v, want it left at %s", cur, h.chain[3].Point.String())
	}
}

func TestPipeline_SinkFailureStopsWithoutCommit(t *testing.T) {
	h := newHarness(t, 3)
	h.sink.err = fmt.Errorf("%w: receiver down", domain.ErrSinkDelivery)
	h.start(t)

	err := h.wait(t)
	if !errors.Is(err, domain.ErrSinkDelivery) {
		t.Fatalf("Run() error = %v, want ErrSinkDelivery", err)
	}
	if cur := h.cursor.Current(); cur != nil {
		t.Errorf("cursor = %s, want nothing committed", cur.String())
	}
}

func TestPipeline_EmptyBatchesStillCommit(t *testing.T) {
	h := newHarness(t, 3)
	h.cfg.Filters = filter.NewChain(dropAll{})
	h.start(t)

	h.waitCursor(t, h.chain[2].Point)
	if err := h.stop(t); err != nil {
		t.Fatal(err)
	}
	if n := h.sink.count(); n != 0 {
		t.Errorf("sink received %d events, want 0", n)
	}
}

func TestPipeline_StateTransitions(t *testing.T) {
	h := newHarness(t, 2)
	h.pipe = NewPipeline(h.cfg)

	var mu sync.Mutex
	var seen []State
	h.pipe.OnStateChange(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr.To)
	})

	h.start(t)
	h.waitCursor(t, h.chain[1].Point)
	if err := h.stop(t); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{domain.StateConnecting, domain.StateStreaming, domain.StateTerminated}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestPipeline_RunTwiceConcurrently(t *testing.T) {
	h := newHarness(t, 1)
	h.start(t)
	waitFor(t, func() bool { return h.pipe.GetStatus().Running }, "pipeline running")

	if err := h.pipe.Run(context.Background()); err == nil {
		t.Error("second Run() succeeded, want an error")
	}
	if err := h.stop(t); err != nil {
		t.Fatal(err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{domain.StateResolving, domain.StateConnecting, true},
		{domain.StateConnecting, domain.StateStreaming, true},
		{domain.StateStreaming, domain.StateReconnecting, true},
		{domain.StateReconnecting, domain.StateResolving, true},
		{domain.StateStreaming, domain.StateTerminated, true},
		{domain.StateStreaming, domain.StateResolving, false},
		{domain.StateResolving, domain.StateStreaming, false},
		{domain.StateTerminated, domain.StateResolving, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMachine_RejectsInvalidTransition(t *testing.T) {
	m := newMachine(domain.StateStreaming)
	if err := m.transition(domain.StateConnecting, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("transition error = %v, want ErrInvalidTransition", err)
	}
	if state, _, _ := m.snapshot(); state != domain.StateStreaming {
		t.Errorf("state = %s, want unchanged", state)
	}
}
