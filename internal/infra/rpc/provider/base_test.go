package provider

import (
	"testing"
	"time"
)

func TestNodeHealth_SingleFailureKeepsNodeUp(t *testing.T) {
	h := NewNodeHealth("n2n")
	h.RecordFailure()

	got := h.GetHealth()
	if !got.Available {
		t.Error("one failure should not mark the node down")
	}
	if got.ErrorRate != 1 {
		t.Errorf("error rate = %v, want 1", got.ErrorRate)
	}
	if got.LastFailureAt.IsZero() {
		t.Error("failure time not recorded")
	}
}

func TestNodeHealth_ConsecutiveFailuresMarkDown(t *testing.T) {
	h := NewNodeHealth("n2n")
	for i := 0; i < downAfter; i++ {
		h.RecordFailure()
	}
	if got := h.GetHealth(); got.Available || got.ConsecutiveFailures != downAfter {
		t.Fatalf("after %d failures: %+v", downAfter, got)
	}

	h.RecordSuccess(10 * time.Millisecond)
	got := h.GetHealth()
	if !got.Available || got.ConsecutiveFailures != 0 {
		t.Errorf("success should restore availability: %+v", got)
	}
}

func TestNodeHealth_ErrorRateCoversRecentCalls(t *testing.T) {
	h := NewNodeHealth("grpc")
	for i := 0; i < healthWindow; i++ {
		h.RecordFailure()
	}
	for i := 0; i < healthWindow/2; i++ {
		h.RecordSuccess(time.Millisecond)
	}
	if got := h.GetHealth().ErrorRate; got != 0.5 {
		t.Errorf("error rate = %v, want 0.5 over the last %d calls", got, healthWindow)
	}
}

func TestNodeHealth_LatencyAverages(t *testing.T) {
	h := NewNodeHealth("grpc")
	h.RecordSuccess(100 * time.Millisecond)
	if got := h.GetHealth().Latency; got != 100*time.Millisecond {
		t.Fatalf("first sample latency = %v", got)
	}
	h.RecordSuccess(200 * time.Millisecond)
	if got := h.GetHealth().Latency; got != 120*time.Millisecond {
		t.Errorf("latency = %v, want 120ms", got)
	}
}
