// Package health reports pipeline health and serves the operational HTTP
// endpoints.
package health

import (
	"github.com/vietddude/chainrelay/internal/indexing/pipeline"
	"github.com/vietddude/chainrelay/internal/infra/rpc/provider"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report is the detailed health of the running pipeline.
type Report struct {
	Status   SystemStatus    `json:"status"`
	Reasons  []string        `json:"reasons,omitempty"`
	Pipeline pipeline.Status `json:"pipeline"`
	Provider *ProviderHealth `json:"provider,omitempty"`
}

// ProviderHealth is the transport's view of the node connection.
type ProviderHealth struct {
	Name string `json:"name"`
	provider.HealthStatus
}
