// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package explain attributes a churn probability to the input features.
//
// Explain estimates Shapley values by Monte-Carlo permutation sampling
// against a background sample. Surrogate fits a kernel-weighted ridge
// regression around one instance (the LIME scheme). Both report their
// results in the order of the names they are given, which callers pass in
// canonical feature order.
//
// Every failure, including a panic inside the model and an expired
// context, surfaces as ErrUnavailable so the caller can drop the
// explanation without failing the request.
package explain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/tomtom215/churnguard/internal/model"
)

// ErrUnavailable means no explanation could be produced.
var ErrUnavailable = errors.New("explanation unavailable")

// ProbaModel is the model contract the explainers need.
type ProbaModel interface {
	PredictProba(x []float64) (float64, error)
}

// Attribution is one feature's contribution to a prediction.
type Attribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// Config controls sampling.
type Config struct {
	// Permutations is the number of feature orderings sampled per call.
	Permutations int

	// Seed makes repeated calls on the same input return the same values.
	Seed int64

	// SurrogateSamples is the number of perturbations per surrogate fit.
	SurrogateSamples int

	// SurrogateKernelWidth scales the kernel width, which is
	// SurrogateKernelWidth * sqrt(feature count).
	SurrogateKernelWidth float64

	// SurrogateRidge is the L2 penalty of the surrogate fit.
	SurrogateRidge float64

	// SummarySampleSize caps the rows attributed for a summary plot.
	SummarySampleSize int
}

// DefaultConfig returns the sampling defaults.
func DefaultConfig() Config {
	return Config{
		Permutations:         64,
		Seed:                 42,
		SurrogateSamples:     500,
		SurrogateKernelWidth: 0.75,
		SurrogateRidge:       1.0,
		SummarySampleSize:    50,
	}
}

// Explainer computes attributions. It holds no per-call state and is safe
// for concurrent use.
type Explainer struct {
	cfg Config
}

// New returns an explainer, filling unset fields from DefaultConfig.
func New(cfg Config) *Explainer {
	d := DefaultConfig()
	if cfg.Permutations <= 0 {
		cfg.Permutations = d.Permutations
	}
	if cfg.SurrogateSamples <= 0 {
		cfg.SurrogateSamples = d.SurrogateSamples
	}
	if cfg.SurrogateKernelWidth <= 0 {
		cfg.SurrogateKernelWidth = d.SurrogateKernelWidth
	}
	if cfg.SurrogateRidge < 0 {
		cfg.SurrogateRidge = d.SurrogateRidge
	}
	if cfg.SummarySampleSize <= 0 {
		cfg.SummarySampleSize = d.SummarySampleSize
	}
	return &Explainer{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Explainer) Config() Config { return e.cfg }

// Explain returns the Shapley attribution of m's probability at x, one
// entry per name.
func (e *Explainer) Explain(ctx context.Context, m ProbaModel, bg *model.Background, x []float64, names []string) (out []Attribution, err error) {
	if err := checkInputs(m, bg, x, names); err != nil {
		return nil, err
	}
	defer recoverUnavailable(&err)

	phi, err := e.shapley(ctx, m, bg, x)
	if err != nil {
		return nil, err
	}
	return attributions(names, phi), nil
}

// shapley averages marginal contributions over sampled permutations. Each
// permutation starts from one background row, cycling through the sample,
// and switches features to x one at a time.
func (e *Explainer) shapley(ctx context.Context, m ProbaModel, bg *model.Background, x []float64) ([]float64, error) {
	width := len(x)
	rng := rand.New(rand.NewSource(e.cfg.Seed)) //nolint:gosec // sampling, not security
	phi := make([]float64, width)
	z := make([]float64, width)

	for p := 0; p < e.cfg.Permutations; p++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		copy(z, bg.Rows[p%len(bg.Rows)])
		prev, err := m.PredictProba(z)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		for _, j := range rng.Perm(width) {
			z[j] = x[j]
			cur, err := m.PredictProba(z)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			phi[j] += cur - prev
			prev = cur
		}
	}

	n := float64(e.cfg.Permutations)
	for j := range phi {
		phi[j] /= n
		if math.IsNaN(phi[j]) || math.IsInf(phi[j], 0) {
			return nil, fmt.Errorf("%w: non-finite attribution for feature %d", ErrUnavailable, j)
		}
	}
	return phi, nil
}

// Summary returns the mean absolute attribution per feature over up to
// SummarySampleSize rows of sample.
func (e *Explainer) Summary(ctx context.Context, m ProbaModel, bg *model.Background, sample [][]float64, names []string) (out []Attribution, err error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: empty sample", ErrUnavailable)
	}
	if len(sample) > e.cfg.SummarySampleSize {
		sample = sample[:e.cfg.SummarySampleSize]
	}
	if err := checkInputs(m, bg, sample[0], names); err != nil {
		return nil, err
	}
	defer recoverUnavailable(&err)

	mean := make([]float64, len(names))
	for _, row := range sample {
		if len(row) != len(names) {
			return nil, fmt.Errorf("%w: sample row has %d features, want %d", ErrUnavailable, len(row), len(names))
		}
		phi, err := e.shapley(ctx, m, bg, row)
		if err != nil {
			return nil, err
		}
		for j, v := range phi {
			mean[j] += math.Abs(v)
		}
	}
	for j := range mean {
		mean[j] /= float64(len(sample))
	}
	return attributions(names, mean), nil
}

func checkInputs(m ProbaModel, bg *model.Background, x []float64, names []string) error {
	switch {
	case m == nil:
		return fmt.Errorf("%w: no model", ErrUnavailable)
	case bg.Width() == 0:
		return fmt.Errorf("%w: empty background", ErrUnavailable)
	case bg.Width() != len(x):
		return fmt.Errorf("%w: background width %d, instance width %d", ErrUnavailable, bg.Width(), len(x))
	case len(names) != len(x):
		return fmt.Errorf("%w: %d names for %d features", ErrUnavailable, len(names), len(x))
	}
	for i, row := range bg.Rows {
		if len(row) != len(x) {
			return fmt.Errorf("%w: background row %d is ragged", ErrUnavailable, i)
		}
	}
	return nil
}

func recoverUnavailable(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: panic: %v", ErrUnavailable, r)
	}
}

func attributions(names []string, values []float64) []Attribution {
	out := make([]Attribution, len(names))
	for i, n := range names {
		out[i] = Attribution{Feature: n, Value: values[i]}
	}
	return out
}
