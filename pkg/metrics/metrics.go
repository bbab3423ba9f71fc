// Package metrics provides Prometheus metrics for the prediction service
// and training pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpmeta_predictions_total",
			Help: "Total number of served predictions",
		},
		[]string{"category", "family", "fallback"},
	)
	PredictionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpmeta_prediction_errors_total",
			Help: "Total number of prediction requests that failed",
		},
		[]string{"kind"},
	)
	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rpmeta_prediction_duration_seconds",
			Help:    "Time spent serving one prediction, including model loads",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
	ModelsTrained = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpmeta_models_trained_total",
			Help: "Total number of models produced by training runs",
		},
		[]string{"category", "family", "baseline"},
	)
	CacheReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpmeta_model_cache_reloads_total",
			Help: "Total number of explicit model cache invalidations",
		},
	)
)

func RecordPrediction(category, family string, fallback bool, duration time.Duration) {
	PredictionsTotal.WithLabelValues(category, family, boolLabel(fallback)).Inc()
	PredictionDuration.Observe(duration.Seconds())
}

func RecordPredictionError(kind string) {
	PredictionErrors.WithLabelValues(kind).Inc()
}

func RecordModelTrained(category, family string, baseline bool) {
	ModelsTrained.WithLabelValues(category, family, boolLabel(baseline)).Inc()
}

func RecordCacheReload() {
	CacheReloads.Inc()
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
