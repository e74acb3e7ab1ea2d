// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package artifact

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/tomtom215/churnguard/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func trainedClassifier(t *testing.T) *model.Classifier {
	t.Helper()
	X := [][]float64{{1, 0}, {2, 0}, {3, 1}, {7, 1}, {8, 0}, {9, 1}}
	y := []float64{0, 0, 0, 1, 1, 1}
	c, err := model.FitClassifier(context.Background(), X, y, model.Config{Estimators: 10, MinChildSamples: 1})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSaveLoadClassifier(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	c := trainedClassifier(t)

	if err := s.SaveClassifier(ctx, "model_churn", c, Metadata{Rows: 6, Source: "retrain"}); err != nil {
		t.Fatalf("SaveClassifier: %v", err)
	}
	got, meta, err := s.LoadClassifier(ctx, "model_churn")
	if err != nil {
		t.Fatalf("LoadClassifier: %v", err)
	}
	if meta.Kind != KindClassifier || meta.Rows != 6 || meta.Checksum == "" {
		t.Errorf("metadata = %+v", meta)
	}
	for _, x := range [][]float64{{1, 0}, {9, 1}, {5, 0}} {
		a, _ := c.PredictProba(x)
		b, _ := got.PredictProba(x)
		if a != b {
			t.Errorf("PredictProba(%v) changed after round trip: %v vs %v", x, a, b)
		}
	}
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, _, err := s.LoadClassifier(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadWrongKind(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveBackground(ctx, "bg", model.ZeroBackground(2), Metadata{}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.LoadClassifier(ctx, "bg"); err == nil {
		t.Error("loading a background as a classifier must fail")
	}
}

func TestLoadRewardModelRejectsArity(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	X := [][]float64{{1}, {2}, {3}, {4}}
	m, err := model.FitMultiRegressor(ctx, X, [][]float64{{1}, {2}, {3}, {4}}, model.Config{Estimators: 2, MinChildSamples: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "rewards_model", m, Metadata{Kind: KindRewards}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.LoadRewardModel(ctx, "rewards_model"); err == nil {
		t.Error("expected arity error")
	}
}

func TestChecksumMismatch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	if err := s.SaveBackground(ctx, "bg", &model.Background{Rows: [][]float64{{1, 2, 3}}}, Metadata{}); err != nil {
		t.Fatal(err)
	}

	// Re-save with a forged checksum by rewriting the file through the
	// internal format.
	sf, err := s.readFile("bg")
	if err != nil {
		t.Fatal(err)
	}
	sf.Metadata.Checksum = "deadbeef"
	var buf bytes.Buffer
	if err := encodeStored(&buf, sf); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path("bg"), buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.LoadBackground(ctx, "bg"); err == nil {
		t.Error("expected checksum mismatch")
	}
}

func TestCopyAndPromote(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	c := trainedClassifier(t)
	if err := s.SaveClassifier(ctx, "model_churn", c, Metadata{}); err != nil {
		t.Fatal(err)
	}

	if err := s.Copy(ctx, "model_churn", "new_model_churn"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	a, _ := os.ReadFile(s.Path("model_churn"))
	b, _ := os.ReadFile(s.Path("new_model_churn"))
	if !bytes.Equal(a, b) {
		t.Error("copy must be byte-identical")
	}

	if err := s.Promote(ctx, "new_", "model_churn", "rewards_model"); !errors.Is(err, ErrNotFound) {
		t.Errorf("promote with a missing candidate should fail, got %v", err)
	}
	if !s.Exists("new_model_churn") {
		t.Fatal("failed promote must not rename anything")
	}

	if err := s.Promote(ctx, "new_", "model_churn"); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if s.Exists("new_model_churn") {
		t.Error("candidate should be gone after promote")
	}
	if !s.Exists("model_churn") {
		t.Error("deployed artifact missing after promote")
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	_ = s.SaveBackground(ctx, "b", model.ZeroBackground(1), Metadata{})
	_ = s.SaveBackground(ctx, "a", model.ZeroBackground(1), Metadata{})
	if err := os.WriteFile(s.Path("junk"), []byte("not gob"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("List = %+v", got)
	}
}

func TestAcquireLock(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	release, err := s.AcquireLock("retrain")
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if _, err := s.AcquireLock("retrain"); !errors.Is(err, ErrLocked) {
		t.Errorf("second acquire should fail with ErrLocked, got %v", err)
	}
	release()
	release2, err := s.AcquireLock("retrain")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestNamesCandidates(t *testing.T) {
	t.Parallel()

	n := Names{Churn: "model_churn", Rewards: "rewards_model", Background: "background", CandidatePrefix: "new_"}
	c := n.Candidates()
	if c.Churn != "new_model_churn" || c.Rewards != "new_rewards_model" || c.Background != "new_background" {
		t.Errorf("Candidates = %+v", c)
	}
}
