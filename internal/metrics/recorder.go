// Package metrics exposes Prometheus counters for navigation runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Recorder collects navigation metrics on its own registry. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	steps            prometheus.Counter
	actions          *prometheus.CounterVec
	candidateRejects prometheus.Counter
	stuckRecoveries  *prometheus.CounterVec
	exploreProbes    *prometheus.CounterVec
	visionCalls      *prometheus.CounterVec
	visionLatency    *prometheus.HistogramVec
	runs             *prometheus.CounterVec
	stageTransitions *prometheus.CounterVec

	logger *zap.Logger
}

// NewRecorder creates a Recorder with every metric registered under namespace.
func NewRecorder(namespace string, logger *zap.Logger) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Recorder{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	r.steps = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_total",
		Help:      "Total number of executed act cycles",
	})

	r.actions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed actions by type",
		},
		[]string{"type"},
	)

	r.candidateRejects = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "candidate_rejections_total",
		Help:      "Candidate sets rejected by the geometric gate",
	})

	r.stuckRecoveries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stuck_recoveries_total",
			Help:      "Recovery actions substituted after a deadlock",
		},
		[]string{"action"},
	)

	r.exploreProbes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "explore_probes_total",
			Help:      "Grid exploration clicks by outcome",
		},
		[]string{"outcome"},
	)

	r.visionCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_calls_total",
			Help:      "Vision model calls by kind and status",
		},
		[]string{"kind", "status"},
	)

	r.visionLatency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vision_call_duration_seconds",
			Help:      "Vision model call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"kind"},
	)

	r.runs = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed navigation runs by outcome",
		},
		[]string{"outcome"},
	)

	r.stageTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage changes by destination stage",
		},
		[]string{"stage"},
	)

	return r
}

// Registry returns the registry the metrics live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordStep counts one act cycle.
func (r *Recorder) RecordStep() {
	if r == nil {
		return
	}
	r.steps.Inc()
}

// RecordAction counts an executed action.
func (r *Recorder) RecordAction(actionType string) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(actionType).Inc()
}

// RecordCandidateRejection counts a fully rejected candidate set.
func (r *Recorder) RecordCandidateRejection() {
	if r == nil {
		return
	}
	r.candidateRejects.Inc()
}

// RecordStuckRecovery counts a substituted recovery action.
func (r *Recorder) RecordStuckRecovery(action string) {
	if r == nil {
		return
	}
	r.stuckRecoveries.WithLabelValues(action).Inc()
}

// RecordExploreProbe counts one grid exploration click.
func (r *Recorder) RecordExploreProbe(hit bool) {
	if r == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	r.exploreProbes.WithLabelValues(outcome).Inc()
}

// RecordVisionCall records a vision model call. kind is "action" or "extract".
func (r *Recorder) RecordVisionCall(kind string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.visionCalls.WithLabelValues(kind, status).Inc()
	r.visionLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordStageTransition counts a stage change.
func (r *Recorder) RecordStageTransition(stage string) {
	if r == nil {
		return
	}
	r.stageTransitions.WithLabelValues(stage).Inc()
}

// RecordRun counts a finished run by its terminal outcome.
func (r *Recorder) RecordRun(outcome string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.logger.Debug("Run outcome recorded.", zap.String("outcome", outcome))
}
