// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package model

import (
	"math"
	"sort"
	"testing"
)

func TestTrainTestSplit(t *testing.T) {
	t.Parallel()

	train, test := TrainTestSplit(10, 0.2, 42)
	if len(train) != 8 || len(test) != 2 {
		t.Fatalf("split = %d/%d, want 8/2", len(train), len(test))
	}

	all := append(append([]int(nil), train...), test...)
	sort.Ints(all)
	for i, v := range all {
		if v != i {
			t.Fatalf("split is not a partition: %v", all)
		}
	}

	train2, test2 := TrainTestSplit(10, 0.2, 42)
	for i := range test {
		if test[i] != test2[i] {
			t.Fatal("same seed must give the same split")
		}
	}
	_ = train2
}

func TestTrainTestSplitSmall(t *testing.T) {
	t.Parallel()

	train, test := TrainTestSplit(1, 0.2, 1)
	if len(train) != 1 || len(test) != 0 {
		t.Errorf("n=1 split = %d/%d", len(train), len(test))
	}
	if tr, te := TrainTestSplit(0, 0.2, 1); tr != nil || te != nil {
		t.Error("n=0 must return nil slices")
	}
}

func TestAccuracyAndMAE(t *testing.T) {
	t.Parallel()

	if got := Accuracy([]float64{1, 0, 1, 1}, []float64{1, 1, 1, 0}); got != 0.5 {
		t.Errorf("Accuracy = %v", got)
	}
	if got := MeanAbsoluteError([]float64{1, 2, 3}, []float64{2, 2, 5}); math.Abs(got-1) > 1e-9 {
		t.Errorf("MAE = %v", got)
	}
	if Accuracy(nil, nil) != 0 {
		t.Error("empty accuracy should be 0")
	}
}

func TestBackgroundStats(t *testing.T) {
	t.Parallel()

	b := &Background{Rows: [][]float64{{1, 10}, {3, 10}}}
	mean, std := b.ColumnStats()
	if mean[0] != 2 || mean[1] != 10 {
		t.Errorf("mean = %v", mean)
	}
	if std[1] != 0 || std[0] <= 0 {
		t.Errorf("std = %v", std)
	}

	z := ZeroBackground(13)
	if z.Width() != 13 || len(z.Rows) != 1 {
		t.Errorf("ZeroBackground = %+v", z)
	}
	m, s := z.ColumnStats()
	if m[0] != 0 || s[0] != 0 {
		t.Errorf("zero background stats = %v %v", m, s)
	}
}

func TestSampleBackground(t *testing.T) {
	t.Parallel()

	X := [][]float64{{1}, {2}, {3}, {4}, {5}}
	if got := SampleBackground(X, 10, 1); len(got.Rows) != 5 {
		t.Errorf("oversized sample has %d rows", len(got.Rows))
	}
	got := SampleBackground(X, 2, 1)
	if len(got.Rows) != 2 {
		t.Errorf("sample has %d rows", len(got.Rows))
	}
	got.Rows[0][0] = 99
	for _, r := range X {
		if r[0] == 99 {
			t.Fatal("sample must not alias the input rows")
		}
	}
}
