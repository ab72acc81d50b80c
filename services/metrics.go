package services

import "github.com/prometheus/client_golang/prometheus"

var (
	predictionsCounter    *prometheus.CounterVec
	stageDuration         *prometheus.HistogramVec
	suggestionsCounter    *prometheus.CounterVec
	orphanedImagesCounter prometheus.Counter
)

func init() {
	predictionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of inference requests by outcome (rejected, matched, unmatched, failed).",
		},
		[]string{"outcome"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_stage_duration_seconds",
			Help:    "Duration of the inference pipeline stages.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
	suggestionsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestions_reviewed_total",
			Help: "Total number of suggestion reviews by result (submitted, approved, rejected, duplicate).",
		},
		[]string{"result"},
	)
	orphanedImagesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orphaned_images_deleted_total",
			Help: "Total number of stored prediction images deleted because no prediction references them.",
		},
	)
	prometheus.MustRegister(predictionsCounter, stageDuration, suggestionsCounter, orphanedImagesCounter)
}
