// Package metrics exposes engine and RPC counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tolelom/tolmarket/core"
)

const namespace = "tolmarket"

// Recorder owns a private registry so several engines can live in one
// process (tests do).
type Recorder struct {
	registry  *prometheus.Registry
	calls     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	listings  prometheus.Gauge
	requests  *prometheus.CounterVec
}

// NewRecorder creates a Recorder with every collector registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Calls executed, by type and result.",
		}, []string{"type", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Time spent executing a call, commit included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		listings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_listings",
			Help:      "Listings currently in the registry.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "JSON-RPC requests, by method and outcome.",
		}, []string{"method", "outcome"}),
	}
	r.registry.MustRegister(r.calls, r.durations, r.listings, r.requests)
	return r
}

// ObserveCall implements vm.Metrics.
func (r *Recorder) ObserveCall(typ core.CallType, result string, elapsed time.Duration) {
	r.calls.WithLabelValues(string(typ), result).Inc()
	r.durations.WithLabelValues(string(typ)).Observe(elapsed.Seconds())
}

// SetActiveListings implements vm.Metrics.
func (r *Recorder) SetActiveListings(n uint64) {
	r.listings.Set(float64(n))
}

// ObserveRPC counts one JSON-RPC request.
func (r *Recorder) ObserveRPC(method, outcome string) {
	r.requests.WithLabelValues(method, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }
