// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// flakyStore fails every call while failing is set.
type flakyStore struct {
	Store
	failing  atomic.Bool
	calls    atomic.Int32
	notFound bool
	deadline atomic.Bool
}

func (f *flakyStore) LatestRecord(ctx context.Context) (Document, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		f.deadline.Store(true)
	}
	if f.failing.Load() {
		return nil, errors.New("connection refused")
	}
	if f.notFound {
		return nil, ErrNotFound
	}
	return Document{"ok": true}, nil
}

func (f *flakyStore) Ping(context.Context) error {
	if f.failing.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestResilientOpensAfterFailures(t *testing.T) {
	t.Parallel()

	backend := &flakyStore{}
	backend.failing.Store(true)
	r := NewResilient(backend, ResilientConfig{Backend: "test_open", FailureThreshold: 3, OpenTimeout: time.Hour}, zerolog.Nop())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := r.LatestRecord(ctx); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}
	if r.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", r.State())
	}

	before := backend.calls.Load()
	_, err := r.LatestRecord(ctx)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("open circuit err = %v, want ErrUnavailable", err)
	}
	if backend.calls.Load() != before {
		t.Error("open circuit must not reach the backend")
	}
}

func TestResilientNotFoundIsNotAFailure(t *testing.T) {
	t.Parallel()

	backend := &flakyStore{notFound: true}
	r := NewResilient(backend, ResilientConfig{Backend: "test_notfound", FailureThreshold: 2}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		if _, err := r.LatestRecord(context.Background()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}
	if r.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, not-found must keep the circuit closed", r.State())
	}
}

func TestResilientAppliesDefaultTimeout(t *testing.T) {
	t.Parallel()

	backend := &flakyStore{}
	r := NewResilient(backend, ResilientConfig{Backend: "test_timeout", Timeout: time.Second}, zerolog.Nop())
	got, err := r.LatestRecord(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got["ok"] != true {
		t.Errorf("result not passed through: %v", got)
	}
	if !backend.deadline.Load() {
		t.Error("backend should see a deadline")
	}
}

func TestResilientPingBypassesBreaker(t *testing.T) {
	t.Parallel()

	backend := &flakyStore{}
	backend.failing.Store(true)
	r := NewResilient(backend, ResilientConfig{Backend: "test_ping", FailureThreshold: 1, OpenTimeout: time.Hour}, zerolog.Nop())
	_, _ = r.LatestRecord(context.Background())
	if r.State() != gobreaker.StateOpen {
		t.Fatal("expected open circuit")
	}
	backend.failing.Store(false)
	if err := r.Ping(context.Background()); err != nil {
		t.Errorf("Ping = %v, want backend result", err)
	}
}

func TestResilientWithBadger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := NewResilient(newTestBadger(t), ResilientConfig{Backend: "test_badger", Timeout: time.Second}, zerolog.Nop())
	if err := r.UpsertOutcome(ctx, "c-1", Document{FieldPredictedOutput: 1}); err != nil {
		t.Fatal(err)
	}
	n, err := r.CountWhere(ctx, FieldPredictedOutput, 1)
	if err != nil || n != 1 {
		t.Errorf("CountWhere = %d, %v", n, err)
	}
	if err := r.AppendFeedback(ctx, FeedbackRecord{Features: sampleVector, ActualOutput: 9}); err == nil {
		t.Error("invalid feedback must be rejected")
	}
	if r.State() != gobreaker.StateClosed {
		t.Error("validation errors must not trip the breaker")
	}
}
