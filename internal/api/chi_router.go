// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/churnguard/internal/middleware"
)

// Router binds handlers to routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	adminToken    string
}

// NewRouter creates a router. An empty adminToken disables /admin routes.
func NewRouter(handler *Handler, mw *ChiMiddleware, adminToken string) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw, adminToken: adminToken}
}

// SetupChi returns the routed handler.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// Applied to every route, in order.
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	// Health checks and scrapes are not rate limited.
	r.Get("/health/live", router.handler.HealthLive)
	r.Get("/health/ready", router.handler.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(middleware.PrometheusMetrics)

		r.Post("/predict", router.handler.Predict)
		r.Get("/latest-churn-data", router.handler.LatestChurnData)
		r.Get("/wrong-prediction-count", router.handler.WrongPredictionCount)
		r.Get("/model-summary", router.handler.ModelSummary)
		r.Post("/save-churn-data", router.handler.SaveChurnData)
		r.Post("/feedback", router.handler.Feedback)
		r.Post("/record-actual-churn", router.handler.RecordActualChurn)

		r.With(AdminToken(router.adminToken)).Post("/admin/reload", router.handler.Reload)
	})

	return r
}
