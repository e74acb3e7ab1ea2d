// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package api

import (
	"context"
	"time"

	"github.com/tomtom215/churnguard/internal/explain"
	"github.com/tomtom215/churnguard/internal/model"
	"github.com/tomtom215/churnguard/internal/pipeline"
	"github.com/tomtom215/churnguard/internal/predict"
	"github.com/tomtom215/churnguard/internal/store"
)

// Predictor runs the prediction pipeline. *pipeline.Orchestrator implements it.
type Predictor interface {
	Run(ctx context.Context, payload map[string]any) (*pipeline.Result, error)
}

// Models exposes the live model set. *predict.Registry implements it.
type Models interface {
	Snapshot() *predict.ModelSet
	Reload(ctx context.Context) *predict.ModelSet
}

// Summarizer renders the aggregate attribution chart. *explain.Explainer
// implements it.
type Summarizer interface {
	RenderSummary(ctx context.Context, m explain.ProbaModel, bg *model.Background, sample [][]float64, names []string) ([]byte, error)
}

// Dependencies are the services the handlers call.
type Dependencies struct {
	Pipeline   Predictor
	Models     Models
	Summarizer Summarizer
	Store      store.Store

	// RequestTimeout bounds a /predict call. Zero means no bound beyond the
	// server's write timeout.
	RequestTimeout time.Duration
}

// Handler holds the HTTP handlers.
//
// Handler methods are split across files:
//   - handlers_predict.go: /predict and /model-summary
//   - handlers_records.go: outcome, feedback and pass-through records
//   - handlers_admin.go: model reload
//   - handlers_health.go: liveness and readiness
type Handler struct {
	pipeline       Predictor
	models         Models
	summarizer     Summarizer
	store          store.Store
	requestTimeout time.Duration
	startTime      time.Time
}

// NewHandler creates the handler set.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		pipeline:       deps.Pipeline,
		models:         deps.Models,
		summarizer:     deps.Summarizer,
		store:          deps.Store,
		requestTimeout: deps.RequestTimeout,
		startTime:      time.Now(),
	}
}
