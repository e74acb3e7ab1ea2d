// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Background is the reference sample the explainer integrates over.
type Background struct {
	Rows [][]float64
}

// ZeroBackground is a single all-zero row of the given width, the reference
// used when no trained background sample is available.
func ZeroBackground(width int) *Background {
	return &Background{Rows: [][]float64{make([]float64, width)}}
}

// Width returns the row width, or 0 for an empty sample.
func (b *Background) Width() int {
	if b == nil || len(b.Rows) == 0 {
		return 0
	}
	return len(b.Rows[0])
}

// SampleBackground draws up to size rows from X without replacement.
func SampleBackground(X [][]float64, size int, seed int64) *Background {
	if size >= len(X) {
		rows := make([][]float64, len(X))
		for i := range X {
			rows[i] = append([]float64(nil), X[i]...)
		}
		return &Background{Rows: rows}
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // sampling, not security
	perm := rng.Perm(len(X))[:size]
	rows := make([][]float64, size)
	for i, j := range perm {
		rows[i] = append([]float64(nil), X[j]...)
	}
	return &Background{Rows: rows}
}

// ColumnStats returns per-column mean and standard deviation of b.
func (b *Background) ColumnStats() (mean, std []float64) {
	w := b.Width()
	mean = make([]float64, w)
	std = make([]float64, w)
	col := make([]float64, len(b.Rows))
	for j := 0; j < w; j++ {
		for i, row := range b.Rows {
			col[i] = row[j]
		}
		if len(col) > 1 {
			mean[j], std[j] = stat.MeanStdDev(col, nil)
		} else {
			mean[j] = col[0]
		}
		if math.IsNaN(std[j]) {
			std[j] = 0
		}
	}
	return mean, std
}

// TrainTestSplit shuffles 0..n-1 with seed and holds out testFraction of it.
// The test share is rounded up, so any n >= 2 yields at least one test row.
func TrainTestSplit(n int, testFraction float64, seed int64) (train, test []int) {
	if n == 0 {
		return nil, nil
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible split, not security
	perm := rng.Perm(n)

	nTest := int(math.Ceil(float64(n)*testFraction - 1e-9))
	if nTest >= n {
		nTest = n - 1
	}
	if nTest < 0 {
		nTest = 0
	}
	return perm[nTest:], perm[:nTest]
}

// Accuracy is the share of equal labels.
func Accuracy(want, got []float64) float64 {
	if len(want) == 0 || len(want) != len(got) {
		return 0
	}
	eq := make([]float64, len(want))
	for i := range want {
		if want[i] == got[i] {
			eq[i] = 1
		}
	}
	return stat.Mean(eq, nil)
}

// MeanAbsoluteError returns mean |want - got|.
func MeanAbsoluteError(want, got []float64) float64 {
	if len(want) == 0 || len(want) != len(got) {
		return 0
	}
	diff := make([]float64, len(want))
	floats.SubTo(diff, want, got)
	for i := range diff {
		diff[i] = math.Abs(diff[i])
	}
	return stat.Mean(diff, nil)
}
