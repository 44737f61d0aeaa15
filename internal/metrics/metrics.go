// Package metrics exposes orchestrator counters and gauges over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the orchestrator records. All instruments
// live on a private registry so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	IssuesEnqueued   prometheus.Counter
	Assignments      prometheus.Counter
	Completions      *prometheus.CounterVec
	FailureKinds     *prometheus.CounterVec
	StaleReclaims    prometheus.Counter
	BlockedDequeues  *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	InProgress       prometheus.Gauge
	TrackedPRs       prometheus.Gauge
	WorkflowCostUSD  prometheus.Counter
	WorkflowDuration prometheus.Histogram
}

// New creates a Metrics with all instruments registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		IssuesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foreman_issues_enqueued_total",
			Help: "Issues discovered and added to the work queue.",
		}),
		Assignments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foreman_assignments_total",
			Help: "Work items handed to workers.",
		}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_workflows_total",
			Help: "Workflows reaching a terminal state, by outcome.",
		}, []string{"outcome"}),
		FailureKinds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_failures_total",
			Help: "Failure reports received from workers, by kind.",
		}, []string{"kind"}),
		StaleReclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foreman_stale_reclaims_total",
			Help: "Assignments reclaimed from stale workers.",
		}),
		BlockedDequeues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_blocked_dequeues_total",
			Help: "Work requests denied by the review gate, by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foreman_queue_depth",
			Help: "Pending work items.",
		}),
		InProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foreman_in_progress",
			Help: "Work items currently assigned.",
		}),
		TrackedPRs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foreman_tracked_prs",
			Help: "Open pull requests under review tracking.",
		}),
		WorkflowCostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foreman_workflow_cost_usd_total",
			Help: "Cumulative reported agent spend in USD.",
		}),
		WorkflowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "foreman_workflow_duration_seconds",
			Help:    "Wall time from assignment to terminal report.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10),
		}),
	}

	reg.MustRegister(
		m.IssuesEnqueued, m.Assignments, m.Completions, m.FailureKinds,
		m.StaleReclaims, m.BlockedDequeues, m.QueueDepth, m.InProgress,
		m.TrackedPRs, m.WorkflowCostUSD, m.WorkflowDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
