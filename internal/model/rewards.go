// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package model

import (
	"context"
	"fmt"
	"math"
)

// RewardOutputs is the fixed arity of the incentive regressor: coupons, cashback.
const RewardOutputs = 2

// Rewards is an incentive offer.
type Rewards struct {
	Coupons  float64
	Cashback float64
}

// Rounded returns the offer as non-negative whole numbers.
func (r Rewards) Rounded() (coupons, cashback int) {
	return nonNegInt(r.Coupons), nonNegInt(r.Cashback)
}

// Sum is coupons plus cashback, the scalar the correction loop rewards.
func (r Rewards) Sum() float64 {
	return r.Coupons + r.Cashback
}

func nonNegInt(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	return int(math.Round(v))
}

// RewardModel is a MultiRegressor that is known to have exactly two outputs.
// The arity is checked once, when the model is constructed or loaded.
type RewardModel struct {
	Regressor *MultiRegressor
}

// NewRewardModel wraps m, rejecting anything other than a two-output regressor.
func NewRewardModel(m *MultiRegressor) (*RewardModel, error) {
	if m == nil {
		return nil, fmt.Errorf("model: nil reward regressor")
	}
	if m.NumOutputs() != RewardOutputs {
		return nil, fmt.Errorf("model: reward regressor has %d outputs, want %d", m.NumOutputs(), RewardOutputs)
	}
	return &RewardModel{Regressor: m}, nil
}

// FitRewardModel trains the two-output incentive regressor.
func FitRewardModel(ctx context.Context, X [][]float64, targets []Rewards, cfg Config) (*RewardModel, error) {
	Y := make([][]float64, len(targets))
	for i, t := range targets {
		Y[i] = []float64{t.Coupons, t.Cashback}
	}
	m, err := FitMultiRegressor(ctx, X, Y, cfg)
	if err != nil {
		return nil, err
	}
	return NewRewardModel(m)
}

// PredictRewards returns the raw (unrounded) incentive for x.
func (r *RewardModel) PredictRewards(x []float64) (Rewards, error) {
	out, err := r.Regressor.Predict(x)
	if err != nil {
		return Rewards{}, err
	}
	return Rewards{Coupons: out[0], Cashback: out[1]}, nil
}

// AdjustAction is an incentive adjustment explored by the correction loop.
type AdjustAction int

const (
	// Keep leaves the incentive unchanged.
	Keep AdjustAction = iota
	// Increase adds one coupon and 10 cashback.
	Increase
	// Decrease removes one coupon and 10 cashback, clamped at zero.
	Decrease
)

// Adjust applies a to r. Decrease never produces a negative component.
func (r Rewards) Adjust(a AdjustAction) Rewards {
	switch a {
	case Increase:
		return Rewards{Coupons: r.Coupons + 1, Cashback: r.Cashback + 10}
	case Decrease:
		return Rewards{Coupons: math.Max(r.Coupons-1, 0), Cashback: math.Max(r.Cashback-10, 0)}
	default:
		return r
	}
}
