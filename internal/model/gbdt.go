// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package model implements the two predictors Churnguard serves: a
// gradient-boosted binary classifier for churn and a multi-output
// gradient-boosted regressor for the (coupons, cashback) incentive.
//
// Trees are grown leaf-wise on first and second order gradients, the same
// scheme LightGBM uses, so hyperparameters carry the familiar names:
// Estimators, LearningRate, NumLeaves, MinChildSamples and MaxDepth (-1 for
// unlimited). All types are plain exported structs so they gob-encode
// without registration.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrDimension is returned when a row does not have the trained width.
var ErrDimension = errors.New("model: feature dimension mismatch")

// Config holds boosting hyperparameters.
type Config struct {
	// Estimators is the number of boosting rounds.
	Estimators int

	// LearningRate shrinks every tree's contribution.
	LearningRate float64

	// NumLeaves caps the leaves per tree.
	NumLeaves int

	// MinChildSamples is the minimum rows per leaf.
	MinChildSamples int

	// MaxDepth limits depth. -1 or 0 means no limit.
	MaxDepth int

	// L2 is the leaf weight regularization term.
	L2 float64
}

// DefaultConfig returns the settings the correction loop retrains with.
func DefaultConfig() Config {
	return Config{
		Estimators:      100,
		LearningRate:    0.1,
		NumLeaves:       20,
		MinChildSamples: 5,
		MaxDepth:        -1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Estimators <= 0 {
		c.Estimators = d.Estimators
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	if c.NumLeaves < 2 {
		c.NumLeaves = d.NumLeaves
	}
	if c.MinChildSamples <= 0 {
		c.MinChildSamples = d.MinChildSamples
	}
	return c
}

func (c Config) treeParams() treeParams {
	return treeParams{
		numLeaves:       c.NumLeaves,
		minChildSamples: c.MinChildSamples,
		maxDepth:        c.MaxDepth,
		lambda:          c.L2,
		minHessian:      1e-3,
	}
}

// Classifier is a boosted binary classifier with logistic loss.
type Classifier struct {
	NumFeatures  int
	Init         float64
	LearningRate float64
	Trees        []Tree
}

// FitClassifier trains a classifier on rows X with labels y in {0, 1}.
func FitClassifier(ctx context.Context, X [][]float64, y []float64, cfg Config) (*Classifier, error) {
	width, err := checkRows(X, len(y))
	if err != nil {
		return nil, err
	}
	var pos float64
	for i, v := range y {
		if v != 0 && v != 1 {
			return nil, fmt.Errorf("model: label %d is %v, want 0 or 1", i, v)
		}
		pos += v
	}
	cfg = cfg.withDefaults()

	p := clamp(pos/float64(len(y)), 1e-6, 1-1e-6)
	c := &Classifier{
		NumFeatures:  width,
		Init:         math.Log(p / (1 - p)),
		LearningRate: cfg.LearningRate,
		Trees:        make([]Tree, 0, cfg.Estimators),
	}

	n := len(X)
	raw := make([]float64, n)
	for i := range raw {
		raw[i] = c.Init
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	rows := allRows(n)
	tp := cfg.treeParams()

	for m := 0; m < cfg.Estimators; m++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range raw {
			pi := sigmoid(raw[i])
			grad[i] = pi - y[i]
			hess[i] = pi * (1 - pi)
		}
		t := growTree(X, grad, hess, rows, tp)
		for i := range raw {
			raw[i] += cfg.LearningRate * t.predict(X[i])
		}
		c.Trees = append(c.Trees, t)
	}
	return c, nil
}

func (c *Classifier) margin(x []float64) (float64, error) {
	if len(x) != c.NumFeatures {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(x), c.NumFeatures)
	}
	s := c.Init
	for i := range c.Trees {
		s += c.LearningRate * c.Trees[i].predict(x)
	}
	return s, nil
}

// PredictProba returns P(churn = 1 | x).
func (c *Classifier) PredictProba(x []float64) (float64, error) {
	m, err := c.margin(x)
	if err != nil {
		return 0, err
	}
	return sigmoid(m), nil
}

// Predict returns the label with probability cut at 0.5.
func (c *Classifier) Predict(x []float64) (int, error) {
	p, err := c.PredictProba(x)
	if err != nil {
		return 0, err
	}
	if p >= 0.5 {
		return 1, nil
	}
	return 0, nil
}

// Width returns the number of input features.
func (c *Classifier) Width() int { return c.NumFeatures }

// Regressor is a boosted regressor with squared loss.
type Regressor struct {
	NumFeatures  int
	Init         float64
	LearningRate float64
	Trees        []Tree
}

// FitRegressor trains a single-output regressor.
func FitRegressor(ctx context.Context, X [][]float64, y []float64, cfg Config) (*Regressor, error) {
	width, err := checkRows(X, len(y))
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))

	r := &Regressor{
		NumFeatures:  width,
		Init:         mean,
		LearningRate: cfg.LearningRate,
		Trees:        make([]Tree, 0, cfg.Estimators),
	}

	n := len(X)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = mean
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	for i := range hess {
		hess[i] = 1
	}
	rows := allRows(n)
	tp := cfg.treeParams()

	for m := 0; m < cfg.Estimators; m++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range pred {
			grad[i] = pred[i] - y[i]
		}
		t := growTree(X, grad, hess, rows, tp)
		for i := range pred {
			pred[i] += cfg.LearningRate * t.predict(X[i])
		}
		r.Trees = append(r.Trees, t)
	}
	return r, nil
}

// Predict returns the regression estimate for x.
func (r *Regressor) Predict(x []float64) (float64, error) {
	if len(x) != r.NumFeatures {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(x), r.NumFeatures)
	}
	s := r.Init
	for i := range r.Trees {
		s += r.LearningRate * r.Trees[i].predict(x)
	}
	return s, nil
}

// MultiRegressor fits one independent Regressor per output column.
type MultiRegressor struct {
	Outputs []*Regressor
}

// FitMultiRegressor trains on X with targets Y, one row of outputs per sample.
func FitMultiRegressor(ctx context.Context, X [][]float64, Y [][]float64, cfg Config) (*MultiRegressor, error) {
	if len(Y) == 0 || len(Y) != len(X) {
		return nil, fmt.Errorf("model: %d target rows for %d samples", len(Y), len(X))
	}
	k := len(Y[0])
	if k == 0 {
		return nil, errors.New("model: targets have no columns")
	}

	m := &MultiRegressor{Outputs: make([]*Regressor, k)}
	col := make([]float64, len(Y))
	for j := 0; j < k; j++ {
		for i, row := range Y {
			if len(row) != k {
				return nil, fmt.Errorf("model: target row %d has %d columns, want %d", i, len(row), k)
			}
			col[i] = row[j]
		}
		r, err := FitRegressor(ctx, X, col, cfg)
		if err != nil {
			return nil, fmt.Errorf("model: output %d: %w", j, err)
		}
		m.Outputs[j] = r
	}
	return m, nil
}

// NumOutputs returns the output arity.
func (m *MultiRegressor) NumOutputs() int { return len(m.Outputs) }

// Predict returns one value per output.
func (m *MultiRegressor) Predict(x []float64) ([]float64, error) {
	out := make([]float64, len(m.Outputs))
	for j, r := range m.Outputs {
		v, err := r.Predict(x)
		if err != nil {
			return nil, err
		}
		out[j] = v
	}
	return out, nil
}

func checkRows(X [][]float64, labels int) (int, error) {
	if len(X) == 0 {
		return 0, errors.New("model: no training rows")
	}
	if labels != len(X) {
		return 0, fmt.Errorf("model: %d labels for %d rows", labels, len(X))
	}
	width := len(X[0])
	if width == 0 {
		return 0, errors.New("model: rows have no features")
	}
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has %d features, want %d", ErrDimension, i, len(row), width)
		}
	}
	return width, nil
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
