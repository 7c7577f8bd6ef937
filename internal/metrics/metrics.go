// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets. Relay calls cross several overlay hops, so the
// upper buckets reach further than a direct proxy would need.
var defaultBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	RelayDuration  *prometheus.HistogramVec
	RelayResponses *prometheus.CounterVec
	RelayFailures  *prometheus.CounterVec

	TransportUp prometheus.Gauge
	KnownPeers  prometheus.Gauge
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anon_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anon_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anon_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		RelayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "anon_relay_relay_duration_seconds",
			Help:    "Relayed origin call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		RelayResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anon_relay_relay_responses_total",
			Help: "Total origin responses received through the transport by method and status code.",
		}, []string{"method", "status_code"}),

		RelayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anon_relay_relay_failures_total",
			Help: "Relay calls that did not complete, by failure kind.",
		}, []string{"kind"}),

		TransportUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anon_relay_transport_up",
			Help: "1 while the anonymizing transport is running, 0 otherwise.",
		}),

		KnownPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anon_relay_network_peers",
			Help: "Peers known to the network subsystem at the last status report.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.RelayDuration,
		m.RelayResponses,
		m.RelayFailures,
		m.TransportUp,
		m.KnownPeers,
	)

	return m
}

// Failure kinds used as RelayFailures label values.
const (
	FailureUnavailable = "transport_unavailable"
	FailureInvalid     = "invalid_request"
	FailureExecution   = "execution"
)

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
// Longer prefixes come first so /api/anyone wins over /api.
var knownPrefixes = []string{"/api/anyone", "/api/discovery", "/api/status", "/health", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
