// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/finchley/docflow/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	executionsTotalCounter  *prometheus.CounterVec
	stepsTotalCounter       *prometheus.CounterVec
	stepDurationMetric      *prometheus.HistogramVec
	extractionSourceCounter *prometheus.CounterVec
	corruptionScoreMetric   prometheus.Histogram
	approvalsTotalCounter   *prometheus.CounterVec
	inferenceFallbackCount  prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		executionsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_executions_total",
				Help: "Total number of workflow execution status transitions by status.",
			},
			[]string{"status"},
		)

		stepsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_steps_total",
				Help: "Total number of step results by step type and status.",
			},
			[]string{"type", "status"},
		)

		stepDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_step_duration_seconds",
				Help:    "Duration of step handler calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		)

		extractionSourceCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "text_extraction_results_total",
				Help: "Total text extraction results by provenance source.",
			},
			[]string{"source"},
		)

		corruptionScoreMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "document_corruption_score",
				Help:    "Corruption scores observed before parsing.",
				Buckets: prometheus.LinearBuckets(0, 1, 11),
			},
		)

		approvalsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approval_requests_total",
				Help: "Total approval request transitions by status.",
			},
			[]string{"status"},
		)

		inferenceFallbackCount = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "inference_fallbacks_total",
				Help: "Total times the inference service was unavailable and a pattern fallback was used.",
			},
		)

		prometheus.MustRegister(
			executionsTotalCounter,
			stepsTotalCounter,
			stepDurationMetric,
			extractionSourceCounter,
			corruptionScoreMetric,
			approvalsTotalCounter,
			inferenceFallbackCount,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.ExecutionStatus{
			domain.ExecutionPending,
			domain.ExecutionRunning,
			domain.ExecutionPaused,
			domain.ExecutionComplete,
			domain.ExecutionFailed,
		} {
			executionsTotalCounter.WithLabelValues(string(status))
		}

		for _, status := range []domain.ApprovalStatus{
			domain.ApprovalPending,
			domain.ApprovalApproved,
			domain.ApprovalRejected,
			domain.ApprovalExpired,
		} {
			approvalsTotalCounter.WithLabelValues(string(status))
		}
	})
}

func IncExecutionStatus(status domain.ExecutionStatus) {
	Init()
	executionsTotalCounter.WithLabelValues(string(status)).Inc()
}

func IncStepResult(stepType domain.StepType, status domain.StepResultStatus) {
	Init()
	stepsTotalCounter.WithLabelValues(string(stepType), string(status)).Inc()
}

func ObserveStepDuration(stepType domain.StepType, d time.Duration) {
	Init()
	stepDurationMetric.WithLabelValues(string(stepType)).Observe(d.Seconds())
}

func IncExtractionSource(source string) {
	Init()
	extractionSourceCounter.WithLabelValues(source).Inc()
}

func ObserveCorruptionScore(score int) {
	Init()
	corruptionScoreMetric.Observe(float64(score))
}

func IncApprovalStatus(status domain.ApprovalStatus) {
	Init()
	approvalsTotalCounter.WithLabelValues(string(status)).Inc()
}

func IncInferenceFallback() {
	Init()
	inferenceFallbackCount.Inc()
}
