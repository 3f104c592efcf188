package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dsdeploy/pkg/models"
)

// Collector tracks run and task outcomes for Prometheus scraping.
// It implements runner.Observer and carries its own registry so
// repeated instances never collide on metric names.
type Collector struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	tasksTotal    *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	runDuration   prometheus.Histogram
	activeRuns    prometheus.Gauge
	tasksSkipped  prometheus.Counter
	tasksFailed   prometheus.Counter
}

// NewCollector creates a collector with all metrics registered
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsdeploy_runs_total",
				Help: "Total pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsdeploy_tasks_total",
				Help: "Total task completions by final state",
			},
			[]string{"state"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dsdeploy_task_duration_seconds",
				Help:    "Task execution time in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"task"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dsdeploy_run_duration_seconds",
				Help:    "End-to-end run time in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dsdeploy_active_runs",
				Help: "Number of runs currently executing",
			},
		),
		tasksSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dsdeploy_tasks_skipped_total",
				Help: "Tasks skipped after a halting failure or cancellation",
			},
		),
		tasksFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dsdeploy_tasks_failed_total",
				Help: "Tasks that ended in failure",
			},
		),
	}

	c.registry.MustRegister(
		c.runsTotal,
		c.tasksTotal,
		c.taskDuration,
		c.runDuration,
		c.activeRuns,
		c.tasksSkipped,
		c.tasksFailed,
	)
	return c
}

// RunStarted implements runner.Observer
func (c *Collector) RunStarted(run *models.RunRecord) {
	c.activeRuns.Inc()
}

// TaskTransition implements runner.Observer
func (c *Collector) TaskTransition(run *models.RunRecord, task *models.TaskResult, from, to models.TaskState) {
	switch to {
	case models.TaskSucceeded, models.TaskFailed, models.TaskSkipped:
		c.tasksTotal.WithLabelValues(string(to)).Inc()
	}

	switch to {
	case models.TaskSucceeded:
		c.observeTaskDuration(task)
	case models.TaskFailed:
		c.tasksFailed.Inc()
		if from == models.TaskRunning {
			c.observeTaskDuration(task)
		}
	case models.TaskSkipped:
		c.tasksSkipped.Inc()
	}
}

func (c *Collector) observeTaskDuration(task *models.TaskResult) {
	if task.StartedAt == nil || task.CompletedAt == nil {
		return
	}
	c.taskDuration.WithLabelValues(task.Name).Observe(task.CompletedAt.Sub(*task.StartedAt).Seconds())
}

// RunFinished implements runner.Observer
func (c *Collector) RunFinished(run *models.RunRecord) {
	c.activeRuns.Dec()
	c.runsTotal.WithLabelValues(string(run.Outcome)).Inc()
	c.runDuration.Observe(run.CompletedAt.Sub(run.StartedAt).Seconds())
}

// Handler serves this collector's registry in exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for gathering in tests
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
