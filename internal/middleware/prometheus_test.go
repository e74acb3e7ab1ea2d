// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/churnguard/internal/metrics"
)

func TestPrometheusMetrics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"ok", http.MethodGet, "/mw-test/ok", http.StatusOK},
		{"created", http.MethodPost, "/mw-test/created", http.StatusCreated},
		{"bad request", http.MethodPost, "/mw-test/bad-request", http.StatusBadRequest},
		{"server error", http.MethodPost, "/mw-test/server-error", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := PrometheusMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestPrometheusMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/customers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	c := metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/customers/{id}", "418")
	before := testutil.ToFloat64(c)

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/customers/"+id, nil))
	}

	if got := testutil.ToFloat64(c); got != before+3 {
		t.Errorf("pattern counter = %v, want %v", got, before+3)
	}
}

func TestMetricsResponseWriterKeepsFirstStatus(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := &metricsResponseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	_, _ = w.Write([]byte("body"))
	w.WriteHeader(http.StatusInternalServerError)
	if w.statusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 once the body started", w.statusCode)
	}
}
