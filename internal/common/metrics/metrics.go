// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_completed_total",
			Help: "Total number of pipeline stage executions completed",
		},
		[]string{"stage"},
	)

	StageFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_failed_total",
			Help: "Total number of pipeline stage executions failed",
		},
		[]string{"stage", "error_code"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipeline_stage_duration_seconds",
			Help: "Duration of pipeline stage execution in seconds",
		},
		[]string{"stage"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_sessions_active",
			Help: "Number of sessions currently processing a message",
		},
	)

	ThresholdViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_threshold_violations_total",
			Help: "Total number of urban wards exceeding the TPR plausibility threshold",
		},
	)

	CovariateGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_covariate_gaps_total",
			Help: "Total number of (ward, covariate) pairs recorded as gaps",
		},
		[]string{"reason"},
	)
)
