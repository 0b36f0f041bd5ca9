package health

import (
	"fmt"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/pipeline"
	"github.com/vietddude/chainrelay/internal/infra/rpc/provider"
)

// StatusSource supplies pipeline snapshots.
type StatusSource interface {
	GetStatus() pipeline.Status
}

// Thresholds decide when slot lag degrades health.
type Thresholds struct {
	DegradedLagSlots uint64
	CriticalLagSlots uint64
}

// DefaultThresholds are five minutes and one hour of mainnet slots.
var DefaultThresholds = Thresholds{
	DegradedLagSlots: 300,
	CriticalLagSlots: 3600,
}

// Monitor aggregates health status from the pipeline and its transport.
type Monitor struct {
	source     StatusSource
	provider   provider.Provider
	thresholds Thresholds
}

// NewMonitor creates a new health monitor. prov may be nil.
func NewMonitor(source StatusSource, prov provider.Provider, thresholds Thresholds) *Monitor {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds
	}
	return &Monitor{
		source:     source,
		provider:   prov,
		thresholds: thresholds,
	}
}

// CheckHealth evaluates the current pipeline snapshot.
func (m *Monitor) CheckHealth() Report {
	report := Report{
		Status:   StatusHealthy,
		Pipeline: m.source.GetStatus(),
	}
	if m.provider != nil {
		report.Provider = &ProviderHealth{Name: m.provider.GetName(), HealthStatus: m.provider.GetHealth()}
	}

	degrade := func(to SystemStatus, reason string) {
		report.Reasons = append(report.Reasons, reason)
		if to == StatusCritical || report.Status == StatusHealthy {
			report.Status = to
		}
	}

	st := report.Pipeline
	switch st.State {
	case domain.StateTerminated:
		degrade(StatusCritical, "pipeline terminated")
	case domain.StateReconnecting:
		degrade(StatusDegraded, "reconnecting to node")
	}

	if report.Provider != nil && !report.Provider.Available {
		degrade(StatusDegraded, fmt.Sprintf("provider %s unavailable", report.Provider.Name))
	}

	switch {
	case st.LagSlots > m.thresholds.CriticalLagSlots:
		degrade(StatusCritical, fmt.Sprintf("cursor %d slots behind tip", st.LagSlots))
	case st.LagSlots > m.thresholds.DegradedLagSlots:
		degrade(StatusDegraded, fmt.Sprintf("cursor %d slots behind tip", st.LagSlots))
	}

	return report
}
