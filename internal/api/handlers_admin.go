// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package api

import (
	"net/http"
	"time"
)

// ReloadResponse is the /admin/reload body.
type ReloadResponse struct {
	Generation   uint64    `json:"generation"`
	ChurnReady   bool      `json:"churn_ready"`
	RewardsReady bool      `json:"rewards_ready"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// Reload handles POST /admin/reload: re-reads the artifacts and swaps the
// model set in. In-flight requests finish on the set they started with.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	set := h.models.Reload(r.Context())
	respondJSON(w, http.StatusOK, ReloadResponse{
		Generation:   set.Generation,
		ChurnReady:   set.ChurnReady(),
		RewardsReady: set.RewardsReady(),
		LoadedAt:     set.LoadedAt,
	})
}
