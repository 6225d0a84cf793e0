// Package telemetry implements the C9 taps: counters and histograms
// consulted by the worker pool (C2) and interface dispatcher (C5).
// Per §4.9, telemetry "emits nothing itself" — it is a passive sink
// sampled by an external scraper, which is exactly what
// github.com/prometheus/client_golang's default registry model gives
// for free, promoted here to a direct, exercised dependency.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Taps bundles every metric the core touches. A single instance is
// constructed at process start and threaded through C2/C5.
type Taps struct {
	WorkerBusy   prometheus.Gauge
	WorkerQueued prometheus.Gauge
	WorkerRate   prometheus.Counter

	RequestsTotal    *prometheus.CounterVec   // labels: interface, outcome
	ResponseDuration *prometheus.HistogramVec // labels: interface, outcome
}

// New registers every metric against reg. Passing prometheus.NewRegistry()
// keeps tests hermetic; passing prometheus.DefaultRegisterer wires the
// process's default /metrics endpoint.
func New(reg prometheus.Registerer) *Taps {
	factory := promauto.With(reg)
	return &Taps{
		WorkerBusy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pythomnic_worker_busy",
			Help: "Number of worker-pool slots currently executing a work-unit.",
		}),
		WorkerQueued: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pythomnic_worker_queued",
			Help: "Number of work-units waiting in the worker pool's FIFO queue.",
		}),
		WorkerRate: factory.NewCounter(prometheus.CounterOpts{
			Name: "pythomnic_worker_completed_total",
			Help: "Work-units completed by the worker pool since start.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pythomnic_interface_requests_total",
			Help: "Requests completed per interface, split by outcome.",
		}, []string{"interface", "outcome"}),
		ResponseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pythomnic_interface_response_seconds",
			Help:    "End-to-end response time per interface, split by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"interface", "outcome"}),
	}
}

// SampleWorkerPool is called periodically (or after every enqueue/
// dequeue) to push the worker pool's current gauges into the registry.
func (t *Taps) SampleWorkerPool(busy, queued, rate int64) {
	if t == nil {
		return
	}
	t.WorkerBusy.Set(float64(busy))
	t.WorkerQueued.Set(float64(queued))
	// WorkerRate is a monotonic counter; client_golang counters can only
	// be incremented, so the caller passes a delta, never the raw rate.
	if rate > 0 {
		t.WorkerRate.Add(float64(rate))
	}
}

// Outcome names the end_request verdict, per §4.5/§7: abandoned
// requests never reach the histograms.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ObserveRequest records one completed request's outcome and duration
// against the named interface. Abandoned requests (end_request(None))
// must not call this, matching §7's "do not count toward histograms".
func (t *Taps) ObserveRequest(iface string, outcome Outcome, seconds float64) {
	if t == nil {
		return
	}
	t.RequestsTotal.WithLabelValues(iface, string(outcome)).Inc()
	t.ResponseDuration.WithLabelValues(iface, string(outcome)).Observe(seconds)
}
