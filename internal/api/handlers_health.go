// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package api

import (
	"context"
	"net/http"
	"time"
)

const readinessPingTimeout = 2 * time.Second

// HealthLive handles liveness checks. It answers 200 while the process runs,
// regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles readiness checks. The service is ready when the churn
// model is loaded and the document store answers a ping; missing rewards
// only degrade responses, so they are reported but do not gate readiness.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	set := h.models.Snapshot()

	ctx, cancel := context.WithTimeout(r.Context(), readinessPingTimeout)
	defer cancel()
	storeOK := h.store != nil && h.store.Ping(ctx) == nil

	ready := set.ChurnReady() && storeOK
	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	respondJSON(w, code, map[string]any{
		"status":           status,
		"churn_model":      set.ChurnReady(),
		"rewards_model":    set.RewardsReady(),
		"store_connected":  storeOK,
		"model_generation": set.Generation,
		"uptime":           time.Since(h.startTime).Seconds(),
	})
}
