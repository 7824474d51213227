package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, path, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// CarrierRequestDuration times outbound carrier API calls.
	CarrierRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "carrier_request_duration_seconds", Help: "Carrier API call duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"carrier", "outcome"},
	)
	// OrchestratorOps counts per-order outcomes of orchestrator steps.
	OrchestratorOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orchestrator_operations_total", Help: "Orchestrator per-order outcomes by operation and status."},
		[]string{"operation", "status"},
	)
	// PollerCycles counts tracking poller cycles.
	PollerCycles = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tracking_poller_cycles_total", Help: "Completed tracking poller cycles."},
	)
	// PollerUpdates counts status changes detected by the poller.
	PollerUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_poller_updates_total", Help: "Tracking status changes detected, by carrier."},
		[]string{"carrier"},
	)
)

// RegisterDefault registers all collectors on the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(CarrierRequestDuration)
		Registry.MustRegister(OrchestratorOps)
		Registry.MustRegister(PollerCycles)
		Registry.MustRegister(PollerUpdates)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
