// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/churnguard/internal/features"
	"github.com/tomtom215/churnguard/internal/logging"
	"github.com/tomtom215/churnguard/internal/store"
)

// CountResponse is the /wrong-prediction-count body.
type CountResponse struct {
	Count int64 `json:"count"`
}

// SavedResponse is the /save-churn-data and /feedback body.
type SavedResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	ID      string         `json:"id,omitempty"`
	Data    map[string]any `json:"data"`
}

// ActualChurnResponse is the /record-actual-churn body.
type ActualChurnResponse struct {
	Message          string `json:"message"`
	CustomerID       string `json:"customer_id"`
	ActualOutput     int    `json:"actual_output"`
	WrongPrediction  bool   `json:"wrong_prediction"`
	FeedbackRecorded bool   `json:"feedback_recorded"`
}

// LatestChurnData handles GET /latest-churn-data.
func (h *Handler) LatestChurnData(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.LatestRecord(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "No customer data found", nil)
		return
	}
	if err != nil {
		fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// WrongPredictionCount handles GET /wrong-prediction-count: the number of
// outcomes predicted as churn, which support staff review for corrections.
func (h *Handler) WrongPredictionCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.CountWhere(r.Context(), store.FieldPredictedOutput, 1)
	if err != nil {
		fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, CountResponse{Count: n})
}

// SaveChurnData handles POST /save-churn-data. The form is stored in the
// outcomes collection, merged by customer_id when present, so the next
// /latest-churn-data returns it. The payload is echoed back.
func (h *Handler) SaveChurnData(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeInto(r, &payload); err != nil {
		fail(w, err)
		return
	}
	if payload == nil {
		fail(w, errInvalidJSON)
		return
	}

	id, err := h.store.SaveRecord(r.Context(), store.Document(payload))
	if err != nil {
		fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, SavedResponse{
		Status:  "saved",
		Message: "Data Saved Successfully!",
		ID:      id,
		Data:    payload,
	})
}

// RecordActualChurn handles POST /record-actual-churn: the observed churn of
// a customer whose outcome is already stored. The label is written onto the
// outcome; when it contradicts predicted_output the outcome is also appended
// to the feedback collection for the next correction run.
func (h *Handler) RecordActualChurn(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeObject(r)
	if err != nil {
		fail(w, err)
		return
	}
	id, ok := features.CustomerID(payload)
	if !ok {
		respondError(w, http.StatusBadRequest, "customer_id is required", nil)
		return
	}
	actual, ok := features.Int(payload[store.FieldActualOutput])
	if !ok || (actual != 0 && actual != 1) {
		respondError(w, http.StatusBadRequest, "actual_output must be 0 or 1", nil)
		return
	}

	ctx := r.Context()
	doc, err := h.store.Outcome(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "No customer data found", nil)
		return
	}
	if err != nil {
		fail(w, err)
		return
	}
	if err := h.store.UpsertOutcome(ctx, id, store.Document{store.FieldActualOutput: actual}); err != nil {
		fail(w, err)
		return
	}

	resp := ActualChurnResponse{
		Message:      "Actual churn recorded",
		CustomerID:   id,
		ActualOutput: actual,
	}
	log := logging.Ctx(ctx)
	predicted, hasPrediction := features.Int(doc[store.FieldPredictedOutput])
	if hasPrediction && predicted != actual {
		resp.WrongPrediction = true
		labelled := doc.Clone()
		labelled[store.FieldActualOutput] = actual
		rec, err := store.FeedbackFromDocument(labelled)
		if err != nil {
			// The label is kept on the outcome even when its features are
			// incomplete.
			log.Warn().Err(err).Str("customer_id", sanitizeLogValue(id)).Msg("outcome unusable as feedback")
		} else {
			if err := h.store.AppendFeedback(ctx, rec); err != nil {
				fail(w, err)
				return
			}
			resp.FeedbackRecorded = true
		}
	}

	log.Info().
		Str("customer_id", sanitizeLogValue(id)).
		Int("actual_output", actual).
		Bool("wrong_prediction", resp.WrongPrediction).
		Msg("actual churn recorded")
	respondJSON(w, http.StatusOK, resp)
}

// Feedback handles POST /feedback: a feature row with its ground truth and
// the incentive that should have been offered.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeObject(r)
	if err != nil {
		fail(w, err)
		return
	}

	rec, err := store.FeedbackFromDocument(store.Document(payload))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.store.AppendFeedback(r.Context(), rec); err != nil {
		fail(w, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("customer_id", sanitizeLogValue(rec.CustomerID)).
		Int("actual_output", rec.ActualOutput).
		Msg("feedback recorded")
	doc := rec.Document()
	respondJSON(w, http.StatusCreated, SavedResponse{Status: "saved", Data: doc})
}
