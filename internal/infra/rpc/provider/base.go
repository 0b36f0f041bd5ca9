package provider

import (
	"sync"
	"time"
)

const (
	// healthWindow is how many recent calls ErrorRate covers.
	healthWindow = 20
	// downAfter consecutive failures marks the node unavailable. A single
	// dropped chain-sync session is routine and handled by reconnecting.
	downAfter = 3
	// latencyWeight is the EWMA weight of the newest sample.
	latencyWeight = 0.2
)

// NodeHealth tracks how a chain-sync node has been answering. Transports
// embed it and report every round trip.
type NodeHealth struct {
	Name string

	mu          sync.RWMutex
	outcomes    [healthWindow]bool // true = failed
	next, count int
	consecutive int
	health      HealthStatus
}

// NewNodeHealth starts optimistic: a node is available until it fails.
func NewNodeHealth(name string) *NodeHealth {
	return &NodeHealth{
		Name:   name,
		health: HealthStatus{Available: true},
	}
}

// GetName returns the transport name.
func (h *NodeHealth) GetName() string {
	return h.Name
}

// GetHealth returns a snapshot.
func (h *NodeHealth) GetHealth() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.health
}

// RecordSuccess records a completed round trip.
func (h *NodeHealth) RecordSuccess(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.push(false)
	h.consecutive = 0
	h.health.Available = true
	h.health.LastSuccessAt = time.Now()
	if h.health.Latency == 0 {
		h.health.Latency = latency
	} else {
		h.health.Latency = time.Duration(latencyWeight*float64(latency) + (1-latencyWeight)*float64(h.health.Latency))
	}
	h.refresh()
}

// RecordFailure records a failed round trip.
func (h *NodeHealth) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.push(true)
	h.consecutive++
	h.health.LastFailureAt = time.Now()
	if h.consecutive >= downAfter {
		h.health.Available = false
	}
	h.refresh()
}

func (h *NodeHealth) push(failed bool) {
	h.outcomes[h.next] = failed
	h.next = (h.next + 1) % healthWindow
	if h.count < healthWindow {
		h.count++
	}
}

func (h *NodeHealth) refresh() {
	failed := 0
	for i := 0; i < h.count; i++ {
		if h.outcomes[i] {
			failed++
		}
	}
	h.health.ErrorRate = float64(failed) / float64(h.count)
	h.health.ConsecutiveFailures = h.consecutive
}
