// Package metrics exports flow runs and node latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/run"
)

const namespace = "policyflow"

// Recorder implements run.NodeLatencyObserver and run.RunObserver.
type Recorder struct {
	registry    *prometheus.Registry
	nodeLatency *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	pathLength  prometheus.Histogram
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		nodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_latency_seconds",
			Help:      "Time spent on each visited node, including its evaluation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"type"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Flow runs by termination reason.",
		}, []string{"terminated"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a whole flow run.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		pathLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_path_length",
			Help:      "Decision nodes traversed per run.",
			Buckets:   prometheus.LinearBuckets(0, 1, 16),
		}),
	}
	r.registry.MustRegister(r.nodeLatency, r.runs, r.runDuration, r.pathLength)
	return r
}

func (r *Recorder) ObserveNodeLatency(_ string, kind flow.Kind, duration time.Duration) {
	r.nodeLatency.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

func (r *Recorder) ObserveRun(res run.Result, duration time.Duration) {
	r.runs.WithLabelValues(string(res.Terminated)).Inc()
	r.runDuration.Observe(duration.Seconds())
	r.pathLength.Observe(float64(len(res.ExecutionPath)))
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// NodeLatencyFanout sends each observation to every observer in order.
type NodeLatencyFanout []run.NodeLatencyObserver

func (f NodeLatencyFanout) ObserveNodeLatency(nodeID string, kind flow.Kind, duration time.Duration) {
	for _, o := range f {
		if o != nil {
			o.ObserveNodeLatency(nodeID, kind, duration)
		}
	}
}
