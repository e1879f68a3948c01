// Package metrics provides Prometheus metrics for pipeline runs and the
// external commands they launch.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// commandExecutionTotal counts external command executions.
	// Labels:
	//   - command: binary base name (e.g. "ffmpeg", "python")
	//   - status: "success", "failed" or "cancelled"
	commandExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lipseg_command_executions_total",
			Help: "Total number of external command executions",
		},
		[]string{"command", "status"},
	)

	commandExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lipseg_command_duration_seconds",
			Help:    "Duration of external command executions in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"command"},
	)

	// jobTotal counts inference jobs by outcome ("success", "failed", "cancelled").
	jobTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lipseg_inference_jobs_total",
			Help: "Total number of inference jobs by outcome",
		},
		[]string{"status"},
	)

	// runTotal counts pipeline runs by terminal state ("done", "aborted").
	runTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lipseg_pipeline_runs_total",
			Help: "Total number of pipeline runs by terminal state",
		},
		[]string{"state"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lipseg_pipeline_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(commandExecutionTotal)
	prometheus.MustRegister(commandExecutionDuration)
	prometheus.MustRegister(jobTotal)
	prometheus.MustRegister(runTotal)
	prometheus.MustRegister(runDuration)
}

// RecordCommand records one external command execution.
func RecordCommand(command, status string, durationSeconds float64) {
	commandExecutionTotal.WithLabelValues(command, status).Inc()
	commandExecutionDuration.WithLabelValues(command).Observe(durationSeconds)
}

func RecordJob(status string) {
	jobTotal.WithLabelValues(status).Inc()
}

func RecordRun(state string, durationSeconds float64) {
	runTotal.WithLabelValues(state).Inc()
	runDuration.Observe(durationSeconds)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
