// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/churnguard/internal/metrics"
	"github.com/tomtom215/churnguard/internal/validation"
)

// ErrUnavailable is returned while the circuit is open.
var ErrUnavailable = errors.New("store: unavailable")

// ResilientConfig configures Resilient.
type ResilientConfig struct {
	// Backend labels metrics, e.g. "mongo".
	Backend string

	// Timeout bounds calls whose context has no deadline.
	Timeout time.Duration

	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold uint32

	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
}

// Resilient wraps a Store with a circuit breaker, a default call timeout
// and operation metrics. Not-found results and caller input errors do not
// count as failures.
type Resilient struct {
	next    Store
	cfg     ResilientConfig
	breaker *gobreaker.CircuitBreaker[any]
	logger  zerolog.Logger
}

var _ Store = (*Resilient)(nil)

// NewResilient wraps next.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewResilient(next Store, cfg ResilientConfig, logger zerolog.Logger) *Resilient {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	r := &Resilient{
		next:   next,
		cfg:    cfg,
		logger: logger.With().Str("component", "store").Str("backend", cfg.Backend).Logger(),
	}
	name := "store_" + cfg.Backend
	r.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordBreakerState(name, int(to))
			r.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("store circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isCallerError(err)
		},
	})
	metrics.RecordBreakerState(name, int(gobreaker.StateClosed))
	return r
}

// State returns the breaker state.
func (r *Resilient) State() gobreaker.State {
	return r.breaker.State()
}

func isCallerError(err error) bool {
	var se *validation.StructError
	return errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.As(err, &se)
}

// call runs fn through the breaker under the default timeout and records
// the operation.
func call[T any](ctx context.Context, r *Resilient, op string, fn func(context.Context) (T, error)) (T, error) {
	if _, ok := ctx.Deadline(); !ok && r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := r.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = errors.Join(ErrUnavailable, err)
	}

	recorded := err
	if isCallerError(err) {
		recorded = nil
	}
	metrics.RecordStoreOperation(r.cfg.Backend, op, time.Since(start), recorded)

	var zero T
	if err != nil {
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

func (r *Resilient) UpsertOutcome(ctx context.Context, customerID string, doc Document) error {
	_, err := call(ctx, r, "upsert_outcome", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.UpsertOutcome(ctx, customerID, doc)
	})
	return err
}

func (r *Resilient) Outcome(ctx context.Context, customerID string) (Document, error) {
	return call(ctx, r, "get_outcome", func(ctx context.Context) (Document, error) {
		return r.next.Outcome(ctx, customerID)
	})
}

func (r *Resilient) LatestRecord(ctx context.Context) (Document, error) {
	return call(ctx, r, "latest_record", r.next.LatestRecord)
}

func (r *Resilient) CountWhere(ctx context.Context, field string, value any) (int64, error) {
	return call(ctx, r, "count_where", func(ctx context.Context) (int64, error) {
		return r.next.CountWhere(ctx, field, value)
	})
}

func (r *Resilient) AllFeedback(ctx context.Context) ([]FeedbackRecord, error) {
	return call(ctx, r, "all_feedback", r.next.AllFeedback)
}

func (r *Resilient) OriginalDataset(ctx context.Context) ([]FeedbackRecord, error) {
	return call(ctx, r, "original_dataset", r.next.OriginalDataset)
}

func (r *Resilient) AppendFeedback(ctx context.Context, rec FeedbackRecord) error {
	_, err := call(ctx, r, "append_feedback", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.AppendFeedback(ctx, rec)
	})
	return err
}

func (r *Resilient) SaveRecord(ctx context.Context, doc Document) (string, error) {
	return call(ctx, r, "save_record", func(ctx context.Context) (string, error) {
		return r.next.SaveRecord(ctx, doc)
	})
}

// Ping bypasses the breaker so readiness reflects the backend directly.
func (r *Resilient) Ping(ctx context.Context) error {
	start := time.Now()
	err := r.next.Ping(ctx)
	metrics.RecordStoreOperation(r.cfg.Backend, "ping", time.Since(start), err)
	return err
}

func (r *Resilient) Close(ctx context.Context) error {
	return r.next.Close(ctx)
}
