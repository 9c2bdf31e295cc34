package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CalcAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaspvt_calc_api_calls_total",
			Help: "Total calls to the remote calculation service",
		},
		[]string{"endpoint", "status"},
	)

	CalcAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gaspvt_calc_api_latency_seconds",
			Help:    "Remote calculation call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	CalculationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaspvt_calculations_total",
			Help: "Total calculation submissions by variant, path and outcome",
		},
		[]string{"variant", "path", "outcome"},
	)

	BatchFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaspvt_batch_fallbacks_total",
			Help: "Batch submissions that fell back to per-row stages",
		},
		[]string{"variant"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaspvt_stage_failures_total",
			Help: "Per-row stage failures on the sequential path",
		},
		[]string{"variant", "stage"},
	)

	StaleResultsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gaspvt_stale_results_discarded_total",
			Help: "Results dropped because the session switched well context",
		},
	)

	RowsCalculated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaspvt_rows_calculated_total",
			Help: "Rows written to the grid with derived values",
		},
		[]string{"variant"},
	)
)
