package filter

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Fingerprint attaches a content hash to every event.
type Fingerprint struct{}

// NewFingerprint creates the stage.
func NewFingerprint() *Fingerprint {
	return &Fingerprint{}
}

func (*Fingerprint) Name() string { return "fingerprint" }

// Apply returns a copy of ev carrying its fingerprint.
func (*Fingerprint) Apply(ev *domain.Event) (*domain.Event, Verdict) {
	fp, err := ComputeFingerprint(ev)
	if err != nil {
		// Payloads are plain records; this only fails on a mapper bug.
		return ev, Pass
	}
	return ev.WithFingerprint(fp), Pass
}

// ComputeFingerprint formats "{slot}.{kind}.{xxhash64 hex}". The hash covers
// the slot, the kind and the canonical JSON of context and payload, so it is
// stable across runs.
func ComputeFingerprint(ev *domain.Event) (string, error) {
	body, err := json.Marshal(struct {
		Context domain.EventContext `json:"context"`
		Payload any                 `json:"payload"`
	}{ev.Context, ev.Payload})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", ev.Kind, err)
	}

	d := xxhash.New()
	_, _ = fmt.Fprintf(d, "%d|%s|", ev.Context.Slot, ev.Kind)
	_, _ = d.Write(body)
	return fmt.Sprintf("%d.%s.%016x", ev.Context.Slot, ev.Kind, d.Sum64()), nil
}
