// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package explain

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tomtom215/churnguard/internal/model"
)

// LocalFit is a surrogate fitted around one instance. Coefficients are in
// units of one background standard deviation.
type LocalFit struct {
	Attributions []Attribution
	Intercept    float64
	// Prediction is the surrogate's value at the instance.
	Prediction float64
}

// Surrogate fits a kernel-weighted ridge regression of m's probability on
// perturbations drawn around x, scaled by the background's column spread.
// Columns with no spread are scaled by 1.
func (e *Explainer) Surrogate(ctx context.Context, m ProbaModel, bg *model.Background, x []float64, names []string) (fit *LocalFit, err error) {
	if err := checkInputs(m, bg, x, names); err != nil {
		return nil, err
	}
	defer recoverUnavailable(&err)

	width := len(x)
	n := e.cfg.SurrogateSamples
	_, scale := bg.ColumnStats()
	for j := range scale {
		if scale[j] == 0 || math.IsNaN(scale[j]) {
			scale[j] = 1
		}
	}
	kernel := e.cfg.SurrogateKernelWidth * math.Sqrt(float64(width))

	rng := rand.New(rand.NewSource(e.cfg.Seed)) //nolint:gosec // sampling, not security
	S := mat.NewDense(n, width, nil)
	y := make([]float64, n)
	w := make([]float64, n)
	z := make([]float64, width)
	s := make([]float64, width)

	for i := 0; i < n; i++ {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		// The first row is the instance itself.
		if i > 0 {
			for j := range s {
				s[j] = rng.NormFloat64()
			}
		} else {
			for j := range s {
				s[j] = 0
			}
		}
		for j := range z {
			z[j] = x[j] + s[j]*scale[j]
		}
		p, err := m.PredictProba(z)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		S.SetRow(i, s)
		y[i] = p
		d := floats.Norm(s, 2)
		w[i] = math.Sqrt(math.Exp(-(d * d) / (kernel * kernel)))
	}

	beta, intercept, err := weightedRidge(S, y, w, e.cfg.SurrogateRidge)
	if err != nil {
		return nil, err
	}
	return &LocalFit{
		Attributions: attributions(names, beta),
		Intercept:    intercept,
		Prediction:   intercept,
	}, nil
}

// weightedRidge minimizes sum w_i (y_i - b - S_i.beta)^2 + lambda |beta|^2
// with an unpenalized intercept b, by centering on the weighted means and
// solving the normal equations.
func weightedRidge(S *mat.Dense, y, w []float64, lambda float64) ([]float64, float64, error) {
	n, k := S.Dims()
	wsum := floats.Sum(w)
	if wsum == 0 {
		return nil, 0, fmt.Errorf("%w: all kernel weights are zero", ErrUnavailable)
	}

	xbar := make([]float64, k)
	for j := 0; j < k; j++ {
		col := mat.Col(nil, j, S)
		xbar[j] = floats.Dot(col, w) / wsum
	}
	ybar := floats.Dot(y, w) / wsum

	Xc := mat.NewDense(n, k, nil)
	yc := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		for j := 0; j < k; j++ {
			Xc.Set(i, j, sw*(S.At(i, j)-xbar[j]))
		}
		yc.SetVec(i, sw*(y[i]-ybar))
	}

	var A mat.Dense
	A.Mul(Xc.T(), Xc)
	for j := 0; j < k; j++ {
		A.Set(j, j, A.At(j, j)+lambda)
	}
	var b mat.VecDense
	b.MulVec(Xc.T(), yc)

	var beta mat.VecDense
	if err := beta.SolveVec(&A, &b); err != nil {
		return nil, 0, fmt.Errorf("%w: surrogate solve: %v", ErrUnavailable, err)
	}
	coef := mat.Col(nil, 0, &beta)
	return coef, ybar - floats.Dot(coef, xbar), nil
}
