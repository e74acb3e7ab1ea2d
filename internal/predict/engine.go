// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package predict wraps the churn and incentive predictors behind a
// registry that is constructed explicitly and injected, never global.
//
// PredictChurn is the hard path: it fails with ErrModelUnavailable when the
// classifier did not load and with *InferenceError when it fails at call
// time. PredictRewards is best-effort: every failure yields a zero Offer and
// a reason the caller can log.
package predict

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/churnguard/internal/features"
)

// ErrModelUnavailable means the churn predictor is not loaded.
var ErrModelUnavailable = errors.New("churn model is not available")

// ErrRewardsUnavailable means the reward predictor is not loaded.
var ErrRewardsUnavailable = errors.New("rewards model is not available")

// InferenceError wraps a predictor failure. Error() is safe to show to a
// client; the cause is kept for logs through Unwrap.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference failed", e.Op)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Offer is an incentive rounded to whole, non-negative units.
type Offer struct {
	Coupons  int
	Cashback int
}

// Engine runs inference against a ModelSet obtained from its registry.
type Engine struct {
	registry *Registry
}

// NewEngine returns an engine reading from reg.
func NewEngine(reg *Registry) *Engine {
	return &Engine{registry: reg}
}

// Snapshot returns the registry's current set. A request should take one
// snapshot and use it for every stage.
func (e *Engine) Snapshot() *ModelSet {
	return e.registry.Snapshot()
}

// Registry returns the underlying registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// PredictChurn returns 0 or 1.
func (e *Engine) PredictChurn(ctx context.Context, set *ModelSet, v features.Vector) (label int, err error) {
	if !set.ChurnReady() {
		return 0, ErrModelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return 0, &InferenceError{Op: "churn", Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			label, err = 0, &InferenceError{Op: "churn", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, perr := set.Churn.Predict(v.Slice())
	if perr != nil {
		return 0, &InferenceError{Op: "churn", Err: perr}
	}
	if out != 0 && out != 1 {
		return 0, &InferenceError{Op: "churn", Err: fmt.Errorf("label %d outside {0,1}", out)}
	}
	return out, nil
}

// PredictRewards returns the incentive for v. On any failure the Offer is
// zero and err says why; callers treat that as a degraded success.
func (e *Engine) PredictRewards(ctx context.Context, set *ModelSet, v features.Vector) (offer Offer, err error) {
	if !set.RewardsReady() {
		return Offer{}, ErrRewardsUnavailable
	}
	if err := ctx.Err(); err != nil {
		return Offer{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			offer, err = Offer{}, &InferenceError{Op: "rewards", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	raw, perr := set.Rewards.PredictRewards(v.Slice())
	if perr != nil {
		return Offer{}, &InferenceError{Op: "rewards", Err: perr}
	}
	c, cb := raw.Rounded()
	return Offer{Coupons: c, Cashback: cb}, nil
}
