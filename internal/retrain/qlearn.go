// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package retrain

import (
	"context"
	"math/rand"

	"github.com/tomtom215/churnguard/internal/model"
	"github.com/tomtom215/churnguard/internal/predict"
	"github.com/tomtom215/churnguard/internal/store"
)

// QTables are the two value tables explored by one correction run. They
// start at zero every run and are never persisted.
type QTables struct {
	// Churn is indexed by [prediction wrong][emitted label].
	Churn [2][2]float64 `json:"q_churn"`
	// Rewards is indexed by [churned][adjustment].
	Rewards [2][3]float64 `json:"q_rewards"`
}

// QParams are the Q-learning hyperparameters.
type QParams struct {
	Alpha   float64
	Gamma   float64
	Epsilon float64
}

// QLearner runs epsilon-greedy one-step Q-learning over the two tables.
// It is not safe for concurrent use.
type QLearner struct {
	p   QParams
	rng *rand.Rand
}

// NewQLearner returns a learner drawing exploration decisions from rng.
func NewQLearner(p QParams, rng *rand.Rand) *QLearner {
	return &QLearner{p: p, rng: rng}
}

// ChurnUpdate emits action as the corrected label for a record in state
// and applies the update. The reward is +1 when action matches truth and
// -1 otherwise; the next state is whether action is still wrong.
func (q *QLearner) ChurnUpdate(t *QTables, state, action, truth int) float64 {
	reward := -1.0
	next := 1
	if action == truth {
		reward, next = 1, 0
	}
	row := &t.Churn[state]
	row[action] += q.p.Alpha * (reward + q.p.Gamma*maxOf(t.Churn[next][:]) - row[action])
	return reward
}

// RewardsUpdate applies action to current and updates the table in state.
// The reward is the change in total incentive; the update bootstraps from
// the same state.
func (q *QLearner) RewardsUpdate(t *QTables, state int, action model.AdjustAction, current model.Rewards) float64 {
	reward := current.Adjust(action).Sum() - current.Sum()
	row := &t.Rewards[state]
	row[action] += q.p.Alpha * (reward + q.p.Gamma*maxOf(row[:]) - row[action])
	return reward
}

func (q *QLearner) choose(row []float64) int {
	if q.rng.Float64() < q.p.Epsilon {
		return q.rng.Intn(len(row))
	}
	return argmax(row)
}

// Explore runs episodes passes over recs. churn and rewards are the
// currently deployed predictors; either may be nil, which leaves its table
// at zero. Records whose prediction fails are skipped.
func (q *QLearner) Explore(ctx context.Context, recs []store.FeedbackRecord, episodes int, churn predict.ChurnPredictor, rewards predict.RewardPredictor) (QTables, error) {
	var t QTables
	if len(recs) == 0 {
		return t, nil
	}

	// Predictions do not change across episodes.
	predicted := make([]int, len(recs))
	incentive := make([]model.Rewards, len(recs))
	usable := make([]bool, len(recs))
	for i, r := range recs {
		x := r.Features.Slice()
		if churn != nil {
			if p, err := churn.Predict(x); err == nil {
				predicted[i] = p
				usable[i] = true
			}
		}
		if rewards != nil {
			if out, err := rewards.PredictRewards(x); err == nil {
				incentive[i] = out
			}
		}
	}

	if churn != nil {
		for ep := 0; ep < episodes; ep++ {
			if err := ctx.Err(); err != nil {
				return t, err
			}
			for i, r := range recs {
				if !usable[i] {
					continue
				}
				state := 0
				if predicted[i] != r.ActualOutput {
					state = 1
				}
				q.ChurnUpdate(&t, state, q.choose(t.Churn[state][:]), r.ActualOutput)
			}
		}
	}

	if rewards != nil {
		for ep := 0; ep < episodes; ep++ {
			if err := ctx.Err(); err != nil {
				return t, err
			}
			for i, r := range recs {
				if r.ActualOutput != 1 {
					continue
				}
				q.RewardsUpdate(&t, 1, model.AdjustAction(q.choose(t.Rewards[1][:])), incentive[i])
			}
		}
	}
	return t, nil
}

func argmax(xs []float64) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

func maxOf(xs []float64) float64 {
	return xs[argmax(xs)]
}
