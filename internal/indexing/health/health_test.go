package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/indexing/metrics"
	"github.com/vietddude/chainrelay/internal/indexing/pipeline"
	"github.com/vietddude/chainrelay/internal/infra/rpc/provider"
)

// =============================================================================
// Stubs
// =============================================================================

type stubSource struct {
	status pipeline.Status
}

func (s *stubSource) GetStatus() pipeline.Status { return s.status }

type stubProvider struct {
	available bool
}

func (s *stubProvider) GetName() string { return "n2n" }
func (s *stubProvider) GetHealth() provider.HealthStatus {
	return provider.HealthStatus{Available: s.available}
}
func (s *stubProvider) Close() error { return nil }

func streaming(lag uint64) *stubSource {
	return &stubSource{status: pipeline.Status{
		Network:  "mainnet",
		State:    domain.StateStreaming,
		LagSlots: lag,
	}}
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	monitor := NewMonitor(streaming(5), &stubProvider{available: true}, Thresholds{})

	report := monitor.CheckHealth()
	if report.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s (%v)", report.Status, report.Reasons)
	}
	if report.Provider == nil || report.Provider.Name != "n2n" {
		t.Errorf("expected provider health, got %+v", report.Provider)
	}
}

func TestMonitor_Degraded(t *testing.T) {
	tests := []struct {
		name   string
		source *stubSource
		prov   provider.Provider
	}{
		{"lagging", streaming(500), nil},
		{"provider down", streaming(0), &stubProvider{available: false}},
		{"reconnecting", &stubSource{status: pipeline.Status{State: domain.StateReconnecting}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewMonitor(tt.source, tt.prov, Thresholds{}).CheckHealth()
			if report.Status != StatusDegraded {
				t.Errorf("expected degraded, got %s", report.Status)
			}
			if len(report.Reasons) == 0 {
				t.Error("expected a reason")
			}
		})
	}
}

func TestMonitor_Critical(t *testing.T) {
	monitor := NewMonitor(streaming(5000), &stubProvider{available: false}, Thresholds{})
	if got := monitor.CheckHealth().Status; got != StatusCritical {
		t.Errorf("expected critical, got %s", got)
	}

	terminated := &stubSource{status: pipeline.Status{State: domain.StateTerminated, LastError: "boom"}}
	if got := NewMonitor(terminated, nil, Thresholds{}).CheckHealth().Status; got != StatusCritical {
		t.Errorf("expected critical for a terminated pipeline, got %s", got)
	}
}

func TestMonitor_CustomThresholds(t *testing.T) {
	monitor := NewMonitor(streaming(20), nil, Thresholds{DegradedLagSlots: 10, CriticalLagSlots: 100})
	if got := monitor.CheckHealth().Status; got != StatusDegraded {
		t.Errorf("expected degraded, got %s", got)
	}
}

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheus(reg, "mainnet")
	rec.Rollback()

	source := streaming(5)
	srv := NewServer(NewMonitor(source, nil, Thresholds{}), ":0", "/metrics", reg, nil)
	h := srv.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/health code = %d", w.Code)
	}
	var health map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health["status"] != string(StatusHealthy) {
		t.Errorf("/health status = %q", health["status"])
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	var report Report
	if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Pipeline.Network != "mainnet" || report.Pipeline.State != domain.StateStreaming {
		t.Errorf("/status pipeline = %+v", report.Pipeline)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `chainrelay_rollbacks_total{network="mainnet"} 1`) {
		t.Errorf("/metrics missing rollback counter:\n%s", w.Body.String())
	}

	source.status.State = domain.StateTerminated
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/health code = %d for a terminated pipeline, want 503", w.Code)
	}
}
