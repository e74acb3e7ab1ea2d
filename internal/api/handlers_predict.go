// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package api

import (
	"context"
	"net/http"

	"github.com/tomtom215/churnguard/internal/explain"
	"github.com/tomtom215/churnguard/internal/features"
	"github.com/tomtom215/churnguard/internal/logging"
	"github.com/tomtom215/churnguard/internal/predict"
)

// SummaryResponse is the /model-summary body.
type SummaryResponse struct {
	SummaryPlot string `json:"summary_plot"`
}

// Predict handles POST /predict.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeObject(r)
	if err != nil {
		fail(w, err)
		return
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	res, err := h.pipeline.Run(ctx, payload)
	if err != nil {
		fail(w, err)
		return
	}

	logging.Ctx(ctx).Debug().
		Int("prediction", res.Response.Prediction).
		Str("customer_id", res.CustomerID).
		Interface("stages", res.Trace.Stages()).
		Msg("prediction served")
	respondJSON(w, http.StatusOK, res.Response)
}

// ModelSummary handles GET /model-summary: the mean absolute attribution
// over the background sample, as a base64 PNG.
func (h *Handler) ModelSummary(w http.ResponseWriter, r *http.Request) {
	set := h.models.Snapshot()
	if !set.ChurnReady() {
		fail(w, predict.ErrModelUnavailable)
		return
	}
	if h.summarizer == nil {
		respondError(w, http.StatusInternalServerError, "Model summary unavailable", explain.ErrUnavailable)
		return
	}

	png, err := h.summarizer.RenderSummary(r.Context(), set.Churn, set.Background, set.Background.Rows, features.DisplayNames[:])
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Model summary unavailable", err)
		return
	}
	respondJSON(w, http.StatusOK, SummaryResponse{SummaryPlot: explain.EncodePNG(png)})
}
