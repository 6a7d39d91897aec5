// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateintel_training_runs_total",
			Help: "Total model training attempts per variant and outcome",
		},
		[]string{"variant", "status"},
	)

	TrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rateintel_training_duration_seconds",
			Help:    "Model training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"variant"},
	)

	ModelMAE = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rateintel_model_mae",
			Help: "Holdout mean absolute error of the latest trained model",
		},
		[]string{"entity_id", "variant"},
	)

	ForecastRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateintel_forecast_requests_total",
			Help: "Total forecast attempts per variant and outcome",
		},
		[]string{"variant", "status"},
	)

	ForecastPointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateintel_forecast_points_total",
			Help: "Total forecast points produced",
		},
		[]string{"variant"},
	)

	InsightsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateintel_insights_total",
			Help: "Total market insight requests by market position",
		},
		[]string{"position"},
	)

	RegistryOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateintel_registry_operations_total",
			Help: "Total model registry operations",
		},
		[]string{"op", "status"},
	)

	WorkItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rateintel_work_items_total",
			Help: "Total background work items executed",
		},
		[]string{"work_type", "status"},
	)
)

// Status label values
const (
	StatusSuccess     = "success"
	StatusFailed      = "failed"
	StatusUnavailable = "unavailable"
	StatusSkipped     = "skipped"
)
