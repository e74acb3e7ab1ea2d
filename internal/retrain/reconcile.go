// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package retrain

import (
	"github.com/tomtom215/churnguard/internal/features"
	"github.com/tomtom215/churnguard/internal/model"
	"github.com/tomtom215/churnguard/internal/store"
)

// Reconcile concatenates the labeled dataset and the feedback records, in
// that order, and drops rows whose 13 features repeat an earlier row's. The
// last occurrence of each feature vector wins and keeps its position.
// Labels and incentives are not part of the key.
func Reconcile(dataset, feedback []store.FeedbackRecord) []store.FeedbackRecord {
	all := make([]store.FeedbackRecord, 0, len(dataset)+len(feedback))
	all = append(all, dataset...)
	all = append(all, feedback...)

	last := make(map[features.Vector]int, len(all))
	for i, r := range all {
		last[r.Features] = i
	}

	out := make([]store.FeedbackRecord, 0, len(last))
	for i, r := range all {
		if last[r.Features] == i {
			out = append(out, r)
		}
	}
	return out
}

// trainingSet is a reconciled dataset in column form.
type trainingSet struct {
	X       [][]float64
	labels  []float64
	rewards []model.Rewards
}

func columns(recs []store.FeedbackRecord) trainingSet {
	ts := trainingSet{
		X:       make([][]float64, len(recs)),
		labels:  make([]float64, len(recs)),
		rewards: make([]model.Rewards, len(recs)),
	}
	for i, r := range recs {
		ts.X[i] = r.Features.Slice()
		ts.labels[i] = float64(r.ActualOutput)
		ts.rewards[i] = model.Rewards{Coupons: float64(r.Coupons), Cashback: float64(r.Cashback)}
	}
	return ts
}

func (ts trainingSet) subset(idx []int) trainingSet {
	out := trainingSet{
		X:       make([][]float64, len(idx)),
		labels:  make([]float64, len(idx)),
		rewards: make([]model.Rewards, len(idx)),
	}
	for i, j := range idx {
		out.X[i] = ts.X[j]
		out.labels[i] = ts.labels[j]
		out.rewards[i] = ts.rewards[j]
	}
	return out
}
