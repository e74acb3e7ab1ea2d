// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

/*
Package api provides the HTTP layer of churnd.

Routes:

  - POST /predict: run the prediction pipeline on a feature payload
  - GET /latest-churn-data: most recently written outcome
  - GET /wrong-prediction-count: outcomes with predicted_output = 1
  - GET /model-summary: base64 PNG of mean attribution over the background
  - POST /save-churn-data: store a form as the latest outcome and echo it
  - POST /feedback: record a ground-truth correction
  - POST /record-actual-churn: label a stored outcome, feeding back mispredictions
  - POST /admin/reload: reload model artifacts (bearer token)
  - GET /health/live, GET /health/ready, GET /metrics

Bodies are JSON encoded with goccy/go-json. Every failure is answered with
{"error": "..."}; the mapping from error kinds to status codes lives in
errors.go and nowhere else.

The stack is chi with RequestID, RealIP, Recoverer, go-chi/cors and
go-chi/httprate, plus the Prometheus middleware from internal/middleware.
*/
package api
