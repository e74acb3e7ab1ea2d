// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package pipeline runs one churn prediction from raw payload to response.
//
//	validate -> predict -> (explain | rewards, only when churn = 1) -> persist -> respond
//
// validate and predict are Fatal: their failure ends the request with an
// *Error naming the stage. Every later stage is BestEffort and runs under
// its own deadline; a failure there is logged and counted but never changes
// the churn verdict that reaches the caller.
package pipeline

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/churnguard/internal/explain"
	"github.com/tomtom215/churnguard/internal/features"
	"github.com/tomtom215/churnguard/internal/logging"
	"github.com/tomtom215/churnguard/internal/metrics"
	"github.com/tomtom215/churnguard/internal/model"
	"github.com/tomtom215/churnguard/internal/predict"
	"github.com/tomtom215/churnguard/internal/store"
)

// Response messages.
const (
	MessageChurn   = "Churning Possible"
	MessageNoChurn = "No Churning"
)

// Engine runs inference. *predict.Engine implements it.
type Engine interface {
	Snapshot() *predict.ModelSet
	PredictChurn(ctx context.Context, set *predict.ModelSet, v features.Vector) (int, error)
	PredictRewards(ctx context.Context, set *predict.ModelSet, v features.Vector) (predict.Offer, error)
}

// Explainer attributes predictions. *explain.Explainer implements it.
type Explainer interface {
	Explain(ctx context.Context, m explain.ProbaModel, bg *model.Background, x []float64, names []string) ([]explain.Attribution, error)
	RenderLocalExplanation(ctx context.Context, m explain.ProbaModel, bg *model.Background, x []float64, names []string) ([]byte, error)
}

// OutcomeWriter persists outcomes. store.Store implements it.
type OutcomeWriter interface {
	UpsertOutcome(ctx context.Context, customerID string, doc store.Document) error
}

// Config bounds the best-effort stages.
type Config struct {
	RewardsTimeout time.Duration
	ExplainTimeout time.Duration
	PersistTimeout time.Duration
	// RenderPlots adds base64 PNGs to churn responses.
	RenderPlots bool
}

// Response is the /predict body.
type Response struct {
	Message    string `json:"message"`
	Prediction int    `json:"prediction"`
	// Explanation is null when churn is 0 or no explanation was produced.
	Explanation []explain.Attribution `json:"explanation"`
	Coupons     int                   `json:"coupons"`
	Cashback    int                   `json:"cashback"`
	ShapPlot    string                `json:"shap_plot,omitempty"`
	LimePlot    string                `json:"lime_plot,omitempty"`
}

// Result is a finished run.
type Result struct {
	Response   Response
	CustomerID string
	Trace      Trace
}

// Error is a fatal stage failure. Error() is safe to return to a client.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Orchestrator wires the stages together. It is safe for concurrent use.
type Orchestrator struct {
	engine    Engine
	explainer Explainer
	writer    OutcomeWriter
	cfg       Config
}

// New returns an orchestrator. writer may be nil, which skips persistence.
func New(engine Engine, explainer Explainer, writer OutcomeWriter, cfg Config) *Orchestrator {
	return &Orchestrator{
		engine:    engine,
		explainer: explainer,
		writer:    writer,
		cfg:       cfg,
	}
}

// Run executes the prediction pipeline for one request payload.
//
// Stages run in this order:
//
//  1. validate: features.Build turns the payload into a Vector; the
//     optional customer_id is read alongside
//  2. predict: the churn classifier of the current model set labels it
//  3. rewards and explain: only for a churn label, run concurrently
//     under RewardsTimeout and ExplainTimeout (plots follow explain
//     when RenderPlots is set)
//  4. persist: the outcome is upserted under PersistTimeout
//
// validate and predict are fatal. Their failure returns an *Error naming
// the stage, and the Result holds the trace up to that point. The later
// stages are best effort: a failure is logged and recorded in the trace,
// and the response carries zero incentives or a null explanation instead.
//
// The model set is snapshotted once, so a concurrent reload never mixes
// two generations within one request.
//
// Example usage:
//
//	res, err := orch.Run(r.Context(), payload)
//	var perr *pipeline.Error
//	if errors.As(err, &perr) && perr.Stage == pipeline.StageValidate {
//		// answer 400
//	}
func (o *Orchestrator) Run(ctx context.Context, payload map[string]any) (*Result, error) {
	res := &Result{}

	start := time.Now()
	v, err := features.Build(payload)
	res.Trace = append(res.Trace, StageResult{Stage: StageValidate, Duration: time.Since(start), Err: err})
	if err != nil {
		metrics.RecordPrediction("invalid")
		return res, &Error{Stage: StageValidate, Err: err}
	}
	res.CustomerID, _ = features.CustomerID(payload)

	set := o.engine.Snapshot()
	start = time.Now()
	label, err := o.engine.PredictChurn(ctx, set, v)
	res.Trace = append(res.Trace, StageResult{Stage: StagePredict, Duration: time.Since(start), Err: err})
	metrics.RecordStage(string(StagePredict), time.Since(start), false)
	if err != nil {
		metrics.RecordPrediction("error")
		logging.Ctx(ctx).Error().Err(errors.Unwrap(err)).Str("stage", string(StagePredict)).
			Str("customer_id", res.CustomerID).Msg(err.Error())
		return res, &Error{Stage: StagePredict, Err: err}
	}

	resp := Response{Prediction: label, Message: MessageNoChurn}
	if label == 1 {
		resp.Message = MessageChurn
		o.enrich(ctx, set, v, res, &resp)
	}

	res.Trace = append(res.Trace, o.persist(ctx, v, res.CustomerID, resp))
	res.Response = resp

	if label == 1 {
		metrics.RecordPrediction("churn")
	} else {
		metrics.RecordPrediction("no_churn")
	}
	return res, nil
}

// enrich runs rewards and explanation concurrently. Neither can affect the
// other; results are merged only after both return.
func (o *Orchestrator) enrich(ctx context.Context, set *predict.ModelSet, v features.Vector, res *Result, resp *Response) {
	var (
		g          errgroup.Group
		offer      predict.Offer
		rewardsRes StageResult
		attrs      []explain.Attribution
		explainRes StageResult
		plotsRes   *StageResult
		shap, lime string
	)

	g.Go(func() error {
		start := time.Now()
		out, err := bounded(ctx, o.cfg.RewardsTimeout, func(ctx context.Context) (predict.Offer, error) {
			return o.engine.PredictRewards(ctx, set, v)
		})
		rewardsRes = o.finish(ctx, StageRewards, start, err, res.CustomerID)
		if err == nil {
			offer = out
		}
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		out, err := bounded(ctx, o.cfg.ExplainTimeout, func(ctx context.Context) ([]explain.Attribution, error) {
			return o.explainer.Explain(ctx, set.Churn, set.Background, v.Slice(), features.Fields[:])
		})
		explainRes = o.finish(ctx, StageExplain, start, err, res.CustomerID)
		if err == nil {
			attrs = out
		}

		if o.cfg.RenderPlots {
			start = time.Now()
			s, l, err := o.plots(ctx, set, v, attrs)
			r := o.finish(ctx, StagePlots, start, err, res.CustomerID)
			plotsRes = &r
			shap, lime = s, l
		}
		return nil
	})

	_ = g.Wait()

	res.Trace = append(res.Trace, rewardsRes, explainRes)
	if plotsRes != nil {
		res.Trace = append(res.Trace, *plotsRes)
	}
	resp.Coupons, resp.Cashback = offer.Coupons, offer.Cashback
	resp.Explanation = attrs
	resp.ShapPlot, resp.LimePlot = shap, lime
}

// plots renders the attribution bar chart and the local surrogate chart.
// Either may be empty; an error is returned only when both failed.
func (o *Orchestrator) plots(ctx context.Context, set *predict.ModelSet, v features.Vector, attrs []explain.Attribution) (string, string, error) {
	type images struct{ shap, lime string }

	out, err := bounded(ctx, o.cfg.ExplainTimeout, func(ctx context.Context) (images, error) {
		var imgs images
		var errs []error

		if attrs != nil {
			named := make([]explain.Attribution, len(attrs))
			for i, a := range attrs {
				named[i] = explain.Attribution{Feature: features.DisplayNames[i], Value: a.Value}
			}
			if png, err := explain.RenderAttributions("Feature attribution for this customer", named); err == nil {
				imgs.shap = explain.EncodePNG(png)
			} else {
				errs = append(errs, err)
			}
		}

		png, err := o.explainer.RenderLocalExplanation(ctx, set.Churn, set.Background, v.Slice(), features.DisplayNames[:])
		if err == nil {
			imgs.lime = explain.EncodePNG(png)
		} else {
			errs = append(errs, err)
		}

		if imgs.shap == "" && imgs.lime == "" {
			if len(errs) == 0 {
				errs = append(errs, explain.ErrUnavailable)
			}
			return imgs, errors.Join(errs...)
		}
		return imgs, nil
	})
	return out.shap, out.lime, err
}

// persist upserts the outcome when the payload carried a customer_id. The
// write is detached from the request's cancellation so a client hanging up
// does not drop it; PersistTimeout still bounds it.
func (o *Orchestrator) persist(ctx context.Context, v features.Vector, customerID string, resp Response) StageResult {
	if customerID == "" || o.writer == nil {
		return StageResult{Stage: StagePersist, Skipped: true}
	}

	outcome := store.Outcome{
		CustomerID:      customerID,
		Features:        v,
		PredictedOutput: resp.Prediction,
		Coupons:         resp.Coupons,
		Cashback:        resp.Cashback,
		PredictedAt:     time.Now(),
	}
	if resp.Explanation != nil {
		outcome.Explanation = make([]store.Attribution, len(resp.Explanation))
		for i, a := range resp.Explanation {
			outcome.Explanation[i] = store.Attribution{Feature: a.Feature, Value: a.Value}
		}
	}

	start := time.Now()
	_, err := bounded(context.WithoutCancel(ctx), o.cfg.PersistTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.writer.UpsertOutcome(ctx, customerID, outcome.Document())
	})
	return o.finish(ctx, StagePersist, start, err, customerID)
}

// finish records a best-effort stage and logs its failure.
func (o *Orchestrator) finish(ctx context.Context, stage Stage, start time.Time, err error, customerID string) StageResult {
	d := time.Since(start)
	metrics.RecordStage(string(stage), d, err != nil)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).
			Str("stage", string(stage)).
			Str("policy", PolicyOf(stage).String()).
			Str("customer_id", customerID).
			Dur("duration", d).
			Msg("best-effort stage degraded")
	}
	return StageResult{Stage: stage, Duration: d, Err: err}
}
