package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campaignops/flowengine/internal/workflow/model"
)

const namespace = "flowengine"

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface
	requests        *prometheus.CounterVec   // By route, method and status
	requestDuration *prometheus.HistogramVec // By route and method

	// Definition replacement
	replacements          prometheus.Counter
	nodesCreated          *prometheus.CounterVec // By kind
	unresolvedTransitions *prometheus.CounterVec // By kind

	// Assignments
	assignmentChanges *prometheus.CounterVec // By kind
	defaultPromotions prometheus.Counter

	snapshotFailures prometheus.Counter
}

// New creates the collectors and registers them, together with the Go and process collectors,
// on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),

		replacements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flowchain",
			Name:      "replacements_total",
			Help:      "Total number of committed flow chain replacements",
		}),

		nodesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flowchain",
			Name:      "nodes_created_total",
			Help:      "Graph rows created by replacements",
		}, []string{"kind"}), // kind: stage, step, role_grant, step_transition, stage_transition

		unresolvedTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flowchain",
			Name:      "unresolved_transitions_total",
			Help:      "Transitions skipped because their target name did not resolve",
		}, []string{"kind"}), // kind: step, stage

		assignmentChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaignflow",
			Name:      "changes_total",
			Help:      "Committed campaign flow assignment changes",
		}, []string{"kind"}),

		defaultPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaignflow",
			Name:      "default_promotions_total",
			Help:      "Assignments promoted to default after the default was detached",
		}),

		snapshotFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "failures_total",
			Help:      "Definition snapshots that could not be archived",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.replacements,
		m.nodesCreated,
		m.unresolvedTransitions,
		m.assignmentChanges,
		m.defaultPromotions,
		m.snapshotFailures,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by the matched route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// RecordReplacement counts a committed replacement and what it created.
func (m *Metrics) RecordReplacement(report model.ReplaceReport) {
	if m == nil {
		return
	}
	m.replacements.Inc()
	m.nodesCreated.WithLabelValues("stage").Add(float64(report.StagesCreated))
	m.nodesCreated.WithLabelValues("step").Add(float64(report.StepsCreated))
	m.nodesCreated.WithLabelValues("role_grant").Add(float64(report.RoleGrantsCreated))
	m.nodesCreated.WithLabelValues("step_transition").Add(float64(report.StepTransitionsCreated))
	m.nodesCreated.WithLabelValues("stage_transition").Add(float64(report.StageTransitionsCreated))
	m.unresolvedTransitions.WithLabelValues("step").Add(float64(report.UnresolvedStepTransitions))
	m.unresolvedTransitions.WithLabelValues("stage").Add(float64(report.UnresolvedStageTransitions))
}

// RecordAssignmentChange counts an assignment change of the given kind.
func (m *Metrics) RecordAssignmentChange(kind string, promoted bool) {
	if m == nil {
		return
	}
	m.assignmentChanges.WithLabelValues(kind).Inc()
	if promoted {
		m.defaultPromotions.Inc()
	}
}

func (m *Metrics) RecordSnapshotFailure() {
	if m == nil {
		return
	}
	m.snapshotFailures.Inc()
}
