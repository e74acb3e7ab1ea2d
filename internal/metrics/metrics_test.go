// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func counterValue(c prometheus.Counter) float64 {
	var m io_prometheus_client.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	var m io_prometheus_client.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func TestRecordPrediction(t *testing.T) {
	c := PredictionsTotal.WithLabelValues("churn")
	before := counterValue(c)
	RecordPrediction("churn")
	if counterValue(c) != before+1 {
		t.Error("expected churn prediction counter to increase by one")
	}
}

func TestRecordStageDegraded(t *testing.T) {
	c := StageDegradedTotal.WithLabelValues("explain")
	before := counterValue(c)

	RecordStage("explain", 3*time.Millisecond, false)
	if counterValue(c) != before {
		t.Error("successful stage must not count as degraded")
	}
	RecordStage("explain", 3*time.Millisecond, true)
	if counterValue(c) != before+1 {
		t.Error("degraded stage must be counted")
	}
}

func TestRecordModelReload(t *testing.T) {
	RecordModelReload(true, false)
	if gaugeValue(ModelReady.WithLabelValues("churn")) != 1 {
		t.Error("churn should be ready")
	}
	if gaugeValue(ModelReady.WithLabelValues("rewards")) != 0 {
		t.Error("rewards should not be ready")
	}
}

func TestRecordStoreOperation(t *testing.T) {
	c := StoreErrorsTotal.WithLabelValues("badger", "upsert_outcome")
	before := counterValue(c)
	RecordStoreOperation("badger", "upsert_outcome", time.Millisecond, nil)
	RecordStoreOperation("badger", "upsert_outcome", time.Millisecond, errors.New("boom"))
	if counterValue(c) != before+1 {
		t.Error("only the failed call should be counted as an error")
	}
}

func TestRecordRetrainRun(t *testing.T) {
	RecordRetrainRun("retrained", time.Second, 120, 0.85)
	if gaugeValue(RetrainRecords) != 120 {
		t.Errorf("records gauge = %v", gaugeValue(RetrainRecords))
	}
	if gaugeValue(RetrainHoldoutAccuracy) != 0.85 {
		t.Errorf("accuracy gauge = %v", gaugeValue(RetrainHoldoutAccuracy))
	}
	RecordRetrainRun("carried_over", time.Second, 0, 0)
	if gaugeValue(RetrainHoldoutAccuracy) != 0.85 {
		t.Error("carry-over run must not reset accuracy")
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := gaugeValue(APIActiveRequests)
	TrackActiveRequest(true)
	if gaugeValue(APIActiveRequests) != before+1 {
		t.Error("gauge should increase")
	}
	TrackActiveRequest(false)
	if gaugeValue(APIActiveRequests) != before {
		t.Error("gauge should return to previous value")
	}
}
