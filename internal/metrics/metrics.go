// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "churnguard_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "churnguard_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "churnguard_api_active_requests",
			Help: "Requests currently being served",
		},
	)

	// Prediction pipeline
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "churnguard_predictions_total",
			Help: "Predictions by outcome (churn, no_churn, invalid, error)",
		},
		[]string{"outcome"},
	)

	StageDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "churnguard_stage_degraded_total",
			Help: "Best-effort pipeline stages that failed and were absorbed",
		},
		[]string{"stage"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "churnguard_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	// Models
	ModelReloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "churnguard_model_reloads_total",
			Help: "Number of model set loads",
		},
	)

	ModelReady = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "churnguard_model_ready",
			Help: "1 when the predictor is loaded",
		},
		[]string{"model"},
	)

	// Store
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "churnguard_store_operation_duration_seconds",
			Help:    "Document store call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "churnguard_store_errors_total",
			Help: "Failed document store calls",
		},
		[]string{"backend", "operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "churnguard_circuit_breaker_state",
			Help: "Breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	// Correction loop
	RetrainRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "churnguard_retrain_runs_total",
			Help: "Correction loop runs by result (retrained, carried_over, failed, skipped)",
		},
		[]string{"result"},
	)

	RetrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "churnguard_retrain_duration_seconds",
			Help:    "Correction loop wall time",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	RetrainRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "churnguard_retrain_records",
			Help: "Reconciled rows used by the last correction loop run",
		},
	)

	RetrainHoldoutAccuracy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "churnguard_retrain_holdout_accuracy",
			Help: "Hold-out accuracy of the last retrained churn model",
		},
	)
)

// RecordAPIRequest records one served request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordPrediction counts a finished prediction by outcome.
func RecordPrediction(outcome string) {
	PredictionsTotal.WithLabelValues(outcome).Inc()
}

// RecordStage observes a stage duration and, when degraded, counts it.
func RecordStage(stage string, duration time.Duration, degraded bool) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if degraded {
		StageDegradedTotal.WithLabelValues(stage).Inc()
	}
}

// RecordModelReload records a model set load.
func RecordModelReload(churnReady, rewardsReady bool) {
	ModelReloadsTotal.Inc()
	ModelReady.WithLabelValues("churn").Set(boolGauge(churnReady))
	ModelReady.WithLabelValues("rewards").Set(boolGauge(rewardsReady))
}

// RecordStoreOperation records a document store call.
func RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		StoreErrorsTotal.WithLabelValues(backend, operation).Inc()
	}
}

// RecordBreakerState publishes a breaker state as a number.
func RecordBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRetrainRun records a finished correction loop run.
func RecordRetrainRun(result string, duration time.Duration, records int, accuracy float64) {
	RetrainRunsTotal.WithLabelValues(result).Inc()
	RetrainDuration.Observe(duration.Seconds())
	if records > 0 {
		RetrainRecords.Set(float64(records))
	}
	if result == "retrained" {
		RetrainHoldoutAccuracy.Set(accuracy)
	}
}

// StatusLabel formats an HTTP status code as a label value.
func StatusLabel(code int) string {
	return strconv.Itoa(code)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
