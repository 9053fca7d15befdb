// Package metrics exposes scheduler activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run results recorded by RecordRun.
const (
	RunCompleted = "completed"
	RunStalled   = "stalled"
	RunCancelled = "cancelled"
	RunError     = "error"
)

// Collector owns a private registry so tests and multiple stores never
// collide on global registration. All methods are no-ops on a nil Collector.
type Collector struct {
	registry *prometheus.Registry

	tasksAssigned     *prometheus.CounterVec
	taskOutcomes      *prometheus.CounterVec
	workflowRuns      *prometheus.CounterVec
	persistenceErrors *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	busyAgents        prometheus.Gauge
}

// NewCollector creates a collector whose metric names carry namespace.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		tasksAssigned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_assigned_total",
				Help:      "Total number of task assignments",
			},
			[]string{"role"},
		),
		taskOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_outcomes_total",
				Help:      "Total number of task executions by outcome",
			},
			[]string{"role", "outcome"},
		),
		workflowRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflow_runs_total",
				Help:      "Total number of workflow runs by result",
			},
			[]string{"result"},
		),
		persistenceErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persistence_errors_total",
				Help:      "Total number of failed persistence operations",
			},
			[]string{"op"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Task execution duration in seconds",
				Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"role"},
		),
		busyAgents: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "busy_agents",
				Help:      "Number of agents currently executing a task",
			},
		),
	}
}

// RecordAssignment counts an assignment and marks the agent busy.
func (c *Collector) RecordAssignment(role string) {
	if c == nil {
		return
	}
	c.tasksAssigned.WithLabelValues(role).Inc()
	c.busyAgents.Inc()
}

// RecordOutcome records an execution result and frees the agent.
func (c *Collector) RecordOutcome(role string, success bool, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "completed"
	if !success {
		outcome = "failed"
	}
	c.taskOutcomes.WithLabelValues(role, outcome).Inc()
	c.taskDuration.WithLabelValues(role).Observe(d.Seconds())
	c.busyAgents.Dec()
}

// RecordRun counts a finished workflow run.
func (c *Collector) RecordRun(result string) {
	if c == nil {
		return
	}
	c.workflowRuns.WithLabelValues(result).Inc()
}

// RecordPersistenceError counts a failed gateway operation.
func (c *Collector) RecordPersistenceError(op string) {
	if c == nil {
		return
	}
	c.persistenceErrors.WithLabelValues(op).Inc()
}

// Registry returns the underlying registry, or nil for a nil Collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
