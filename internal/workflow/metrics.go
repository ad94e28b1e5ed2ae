package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/randalmurphal/schemaflow/internal/repository"
)

// Metrics are the Prometheus collectors for workflow runs. A nil
// *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	ddlFailures *prometheus.CounterVec
}

// NewMetrics registers the workflow collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "schemaflow_workflow_runs_total",
			Help: "Total number of workflow runs by final status",
		}, []string{"status"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "schemaflow_workflow_run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ddlFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "schemaflow_workflow_ddl_failures_total",
			Help: "Runs whose DDL failed, by outcome (redesigned or permanent)",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observeRun(status repository.RunStatus, d time.Duration, s State) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
	m.duration.Observe(d.Seconds())
	if s.RetryCount.Get(RetryDDLExecution) > 0 {
		outcome := "redesigned"
		if s.DDLExecutionFailed {
			outcome = "permanent"
		}
		m.ddlFailures.WithLabelValues(outcome).Inc()
	}
}
