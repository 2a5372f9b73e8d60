package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aerohydra"

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// Registry returns the registry all application collectors live in.
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	registry.MustRegister(c)
	return c
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	registry.MustRegister(c)
	return c
}

func gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	registry.MustRegister(g)
	return g
}

func histogram(name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets})
	registry.MustRegister(h)
	return h
}

func histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	registry.MustRegister(h)
	return h
}

// ---------------------------------------------------------------------------
// Pre-defined Application Metrics
// ---------------------------------------------------------------------------

// Source label values.
const (
	SourceAircraft = "aircraft"
	SourceHistory  = "history"
	SourceRegions  = "regions"
)

// Cycle outcome label values.
const (
	OutcomeApplied = "applied"
	OutcomeStale   = "stale"
)

var (
	// Ingestion metrics
	IngestionRequests = counterVec("ingestion_requests_total", "Telemetry API requests by source", "source")
	IngestionErrors   = counterVec("ingestion_errors_total", "Failed telemetry API requests by source", "source")
	IngestionRetries  = counter("ingestion_retries_total", "Telemetry API request retries")
	IngestionLatency  = histogramVec("ingestion_latency_seconds", "Telemetry API request latency", []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}, "source")

	// Reconciler metrics
	ReconcileCycles   = counterVec("reconcile_cycles_total", "Poll cycles by outcome", "outcome")
	ReconcileLatency  = histogram("reconcile_cycle_seconds", "Poll cycle duration", []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30})
	ReconcileSeq      = gauge("reconcile_sequence", "Sequence number of the applied state")
	HistoryFailures   = counter("history_failures_total", "Per-aircraft history fetches that failed")
	TrackedAircraft   = gauge("tracked_aircraft", "Aircraft in the applied state")
	HistoryAircraft   = gauge("history_aircraft", "Aircraft with history in the applied state")
	ActiveRegions     = gauge("active_regions", "Level-2 regions decoded into shapes")
	RegionDecodeError = counter("region_decode_errors_total", "Region geometries that failed to decode")

	// Display metrics
	ProjectedAircraft = gauge("projected_aircraft", "Aircraft drawn at a dead-reckoned position in the last frame")
	ProjectionKm      = histogram("projection_displacement_km", "Distance between fix and projected position", []float64{0.5, 1, 2, 5, 10, 20, 50, 100})

	// Publisher metrics
	PublishedMessages = counter("published_messages_total", "Aircraft messages written to Kafka")
	PublishErrors     = counter("publish_errors_total", "Failed Kafka writes")

	// HTTP metrics
	HTTPRequests      = counter("http_requests_total", "Total HTTP requests")
	HTTPLatency       = histogram("http_latency_seconds", "HTTP request latency", []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1})
	ActiveConnections = gauge("active_connections", "Number of in-flight HTTP requests")
	WebSocketSessions = gauge("websocket_sessions", "Open WebSocket sessions")

	// Memory watch metrics
	MemoryState       = gauge("memory_state", "Memory pressure level: 0 normal, 1 warning, 2 critical, 3 emergency")
	MemoryTransitions = counter("memory_state_changes_total", "Memory pressure level changes")
)
