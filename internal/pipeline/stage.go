// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Stage names a step of the prediction pipeline.
type Stage string

const (
	StageValidate Stage = "validate"
	StagePredict  Stage = "predict"
	StageExplain  Stage = "explain"
	StageRewards  Stage = "rewards"
	StagePlots    Stage = "plots"
	StagePersist  Stage = "persist"
)

// Policy says what a stage failure does to the request.
type Policy int

const (
	// Fatal failures end the request with an error response.
	Fatal Policy = iota
	// BestEffort failures are logged, counted and absorbed.
	BestEffort
)

func (p Policy) String() string {
	if p == Fatal {
		return "fatal"
	}
	return "best_effort"
}

// policies is the single place failure handling is decided.
var policies = map[Stage]Policy{
	StageValidate: Fatal,
	StagePredict:  Fatal,
	StageExplain:  BestEffort,
	StageRewards:  BestEffort,
	StagePlots:    BestEffort,
	StagePersist:  BestEffort,
}

// PolicyOf returns the failure policy of s.
func PolicyOf(s Stage) Policy {
	return policies[s]
}

// StageResult records one visited stage.
type StageResult struct {
	Stage    Stage
	Duration time.Duration
	// Err is the stage failure, absorbed when the stage is BestEffort.
	Err error
	// Skipped is set when the stage did not apply, e.g. persist without a
	// customer_id.
	Skipped bool
}

// Trace lists the stages of one request in completion order.
type Trace []StageResult

// Stages returns the stage names in order.
func (t Trace) Stages() []Stage {
	out := make([]Stage, len(t))
	for i := range t {
		out[i] = t[i].Stage
	}
	return out
}

// Find returns the result for s.
func (t Trace) Find(s Stage) (StageResult, bool) {
	for _, r := range t {
		if r.Stage == s {
			return r, true
		}
	}
	return StageResult{}, false
}

// Degraded lists best-effort stages that failed.
func (t Trace) Degraded() []Stage {
	var out []Stage
	for _, r := range t {
		if r.Err != nil && PolicyOf(r.Stage) == BestEffort {
			out = append(out, r.Stage)
		}
	}
	return out
}

type boundedResult[T any] struct {
	val T
	err error
}

// bounded runs fn with its own deadline. It returns when fn does or when
// the deadline passes, whichever is first; a panic in fn becomes an error.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan boundedResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- boundedResult[T]{val: zero, err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- boundedResult[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
