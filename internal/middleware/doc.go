// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

/*
Package middleware provides HTTP instrumentation for the Churnguard API.

PrometheusMetrics records request counts, latency and in-flight requests.
Endpoints are labelled with the chi route pattern when one is available so
that path parameters never explode label cardinality.

	r.Use(middleware.PrometheusMetrics)
*/
package middleware
