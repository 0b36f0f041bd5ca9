package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/metrics"
)

// Check names reported by the Assert sink.
const (
	CheckPointSet           = "event_point_set"
	CheckSlotIncreases      = "slot_increases"
	CheckBlockNumberFollows = "block_number_follows"
	CheckPreviousHashLinks  = "previous_hash_links"
	CheckTxIndexInBounds    = "tx_index_in_bounds"
	CheckTxOrder            = "tx_order"
	CheckFingerprintPresent = "fingerprint_present"
)

// AssertConfig configures the consistency-checking sink.
type AssertConfig struct {
	BreakOnFailure     bool
	RequireFingerprint bool
}

// Assert checks that the event stream describes a consistent chain. It
// delivers nowhere.
type Assert struct {
	cfg      AssertConfig
	recorder metrics.Recorder
	logger   *slog.Logger

	mu        sync.Mutex
	lastHash  string
	lastSlot  uint64
	lastBlock *domain.BlockRecord
	lastTx    int
	failures  map[string]int
	checked   int
}

// NewAssert creates the sink.
func NewAssert(cfg AssertConfig, recorder metrics.Recorder, logger *slog.Logger) *Assert {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assert{
		cfg:      cfg,
		recorder: recorder,
		logger:   logger.With("component", "assert"),
		lastTx:   -1,
		failures: make(map[string]int),
	}
}

func (a *Assert) Name() string { return "assert" }

// Deliver implements Sink.
func (a *Assert) Deliver(_ context.Context, ev *domain.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checked++

	var failed []string
	check := func(name string, ok bool) {
		if !ok {
			failed = append(failed, name)
		}
	}

	ctx := ev.Context
	check(CheckPointSet, ctx.BlockHash != "")
	if a.cfg.RequireFingerprint {
		check(CheckFingerprintPresent, ev.Fingerprint != "")
	}

	newBlock := ctx.BlockHash != a.lastHash
	if newBlock && a.lastHash != "" {
		check(CheckSlotIncreases, ctx.Slot > a.lastSlot)
	}
	if newBlock {
		a.lastTx = -1
		if ev.Kind != domain.KindBlock {
			// The block record was filtered out; block-level checks need it.
			a.lastBlock = nil
		}
	}

	if rec, ok := ev.Payload.(domain.BlockRecord); ok && ev.Kind == domain.KindBlock {
		if a.lastBlock != nil {
			check(CheckBlockNumberFollows, rec.Number == a.lastBlock.Number+1)
			check(CheckPreviousHashLinks, rec.PreviousHash == a.lastBlock.Hash)
		}
		a.lastBlock = &rec
	}

	if ctx.TxIdx != nil {
		if a.lastBlock != nil && a.lastBlock.Hash == ctx.BlockHash {
			check(CheckTxIndexInBounds, *ctx.TxIdx < a.lastBlock.TxCount)
		}
		check(CheckTxOrder, *ctx.TxIdx >= a.lastTx)
		a.lastTx = *ctx.TxIdx
	}

	a.lastHash, a.lastSlot = ctx.BlockHash, ctx.Slot

	if len(failed) == 0 {
		return nil
	}
	for _, name := range failed {
		a.failures[name]++
		a.recorder.AssertionFailure(name)
	}
	a.logger.Error("Assertion failed", "checks", failed, "slot", ctx.Slot, "block", ctx.BlockHash, "kind", ev.Kind)
	if a.cfg.BreakOnFailure {
		return fmt.Errorf("%w: %v at slot %d", domain.ErrAssertion, failed, ctx.Slot)
	}
	return nil
}

// Failures returns the failure count per check.
func (a *Assert) Failures() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.failures))
	for k, v := range a.failures {
		out[k] = v
	}
	return out
}

// Checked returns the number of events inspected.
func (a *Assert) Checked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checked
}

func (a *Assert) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.failures) > 0 {
		a.logger.Warn("Assertion summary", "checked", a.checked, "failures", a.failures)
	}
	return nil
}
