// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/churnguard/internal/features"
	"github.com/tomtom215/churnguard/internal/pipeline"
	"github.com/tomtom215/churnguard/internal/predict"
	"github.com/tomtom215/churnguard/internal/store"
	"github.com/tomtom215/churnguard/internal/validation"
)

// Request body errors. Their text is sent to clients as is.
//
//nolint:staticcheck // client-facing messages are capitalized
var (
	errEmptyBody    = errors.New("No input data provided")
	errInvalidJSON  = errors.New("Request body must be a JSON object")
	errBodyTooLarge = errors.New("Request body too large")
)

// statusFor maps an error to the status and client message. Messages of
// untyped errors are never sent to the client.
func statusFor(err error) (int, string) {
	var (
		ve *features.ValidationError
		se *validation.StructError
		ie *predict.InferenceError
		pe *pipeline.Error
	)
	switch {
	case errors.Is(err, errEmptyBody), errors.Is(err, errInvalidJSON):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.As(err, &se):
		return http.StatusBadRequest, se.Error()
	case errors.Is(err, predict.ErrModelUnavailable):
		return http.StatusInternalServerError, predict.ErrModelUnavailable.Error()
	case errors.As(err, &ie):
		return http.StatusInternalServerError, ie.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "Document store unavailable"
	case errors.As(err, &pe) && pe.Stage == pipeline.StageValidate:
		return http.StatusBadRequest, pe.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// fail answers with the mapped status. Server-side failures are logged with
// their cause.
func fail(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	var logged error
	if status >= http.StatusInternalServerError {
		logged = err
	}
	respondError(w, status, msg, logged)
}
