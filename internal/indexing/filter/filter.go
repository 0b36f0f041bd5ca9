// Package filter applies ordered per-event stages between the mapper and the
// sink.
package filter

import (
	"fmt"

	"github.com/vietddude/chainrelay/internal/core/config"
	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Verdict is the outcome of a stage.
type Verdict int

const (
	Pass Verdict = iota
	Drop
)

func (v Verdict) String() string {
	if v == Drop {
		return "drop"
	}
	return "pass"
}

// Stage transforms or rejects one event. A stage that annotates returns a
// new event and leaves its input untouched.
type Stage interface {
	Name() string
	Apply(ev *domain.Event) (*domain.Event, Verdict)
}

// Chain runs stages in order. A drop short-circuits the remaining stages.
type Chain struct {
	stages []Stage
	onDrop func(stage string, ev *domain.Event)
}

// NewChain creates a chain over stages.
func NewChain(stages ...Stage) *Chain {
	return &Chain{stages: stages}
}

// OnDrop registers a callback invoked with the name of the dropping stage.
func (c *Chain) OnDrop(fn func(stage string, ev *domain.Event)) {
	c.onDrop = fn
}

// Apply runs ev through every stage.
func (c *Chain) Apply(ev *domain.Event) (*domain.Event, Verdict) {
	for _, s := range c.stages {
		next, v := s.Apply(ev)
		if v == Drop {
			if c.onDrop != nil {
				c.onDrop(s.Name(), ev)
			}
			return nil, Drop
		}
		ev = next
	}
	return ev, Pass
}

// ApplyBatch filters the events of one block, preserving order.
func (c *Chain) ApplyBatch(b *domain.Batch) *domain.Batch {
	out := &domain.Batch{Point: b.Point, BlockNumber: b.BlockNumber}
	for _, ev := range b.Events {
		if next, v := c.Apply(ev); v == Pass {
			out.Events = append(out.Events, next)
		}
	}
	return out
}

// Len returns the number of stages.
func (c *Chain) Len() int {
	return len(c.stages)
}

// FromConfig builds a chain from the filters section.
func FromConfig(cfgs []config.FilterConfig) (*Chain, error) {
	stages := make([]Stage, 0, len(cfgs))
	for i, fc := range cfgs {
		switch fc.Type {
		case "Fingerprint":
			stages = append(stages, NewFingerprint())
		case "Selection":
			pred, err := ParsePredicate(fc.Predicate)
			if err != nil {
				return nil, fmt.Errorf("%w: filters[%d]: %w", domain.ErrConfig, i, err)
			}
			mode := ModeKeep
			if fc.Mode == string(ModeDrop) {
				mode = ModeDrop
			}
			stages = append(stages, NewSelection(mode, pred))
		case "Dedup":
			stages = append(stages, NewDedup(fc.Capacity))
		default:
			return nil, fmt.Errorf("%w: filters[%d]: unknown type %q", domain.ErrConfig, i, fc.Type)
		}
	}
	return NewChain(stages...), nil
}
