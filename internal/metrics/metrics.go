// Package metrics exposes Prometheus counters for simulation runs.
//
// Collectors live on a private registry so independent runs, and tests,
// never share state. The CLI prints the gathered families in the Prometheus
// text format after a run when metrics are enabled.
package metrics

import (
	"bytes"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/flowledger/internal/engine"
)

const namespace = "flowledger"

// Recorder is an engine.Observer that counts steps, activities and failures.
type Recorder struct {
	registry *prometheus.Registry

	steps      *prometheus.CounterVec
	activities *prometheus.CounterVec
	enqueued   prometheus.Counter
	skipped    prometheus.Counter
	errors     *prometheus.CounterVec
	perStep    prometheus.Histogram
	simTime    prometheus.Gauge
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Engine steps processed, by event type and target node type.",
		}, []string{"event_type", "node_type"}),
		activities: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_total",
			Help:      "Activity entries appended to the ledger, by target node.",
		}, []string{"node_id"}),
		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_enqueued_total",
			Help:      "Events scheduled by processors.",
		}),
		skipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Events a node could not handle.",
		}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_errors_total",
			Help:      "Aborted steps, by error code.",
		}, []string{"code"}),
		perStep: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activities_per_step",
			Help:      "Activity entries produced by a single step.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		simTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulated_time",
			Help:      "Timestamp of the most recently processed event.",
		}),
	}
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// StepCompleted implements engine.Observer.
func (r *Recorder) StepCompleted(info engine.StepInfo) {
	if r == nil {
		return
	}

	nodeType := string(info.NodeType)
	if nodeType == "" {
		nodeType = "none"
	}
	r.steps.WithLabelValues(string(info.EventType), nodeType).Inc()
	r.simTime.Set(float64(info.Timestamp))

	if info.Skipped {
		r.skipped.Inc()
	}
	if info.Err != nil {
		code := string(engine.CodeOf(info.Err))
		if code == "" {
			code = "UNKNOWN"
		}
		r.errors.WithLabelValues(code).Inc()
		return
	}

	if info.Activities > 0 {
		node := info.NodeID
		if node == "" {
			node = "none"
		}
		r.activities.WithLabelValues(node).Add(float64(info.Activities))
	}
	r.enqueued.Add(float64(info.Enqueued))
	r.perStep.Observe(float64(info.Activities))
}

// WriteText renders every gathered family in the Prometheus text format.
func (r *Recorder) WriteText() (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}
