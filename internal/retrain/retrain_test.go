// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package retrain

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/churnguard/internal/artifact"
	"github.com/tomtom215/churnguard/internal/features"
	"github.com/tomtom215/churnguard/internal/model"
	"github.com/tomtom215/churnguard/internal/store"
)

var testNames = artifact.Names{
	Churn:           "model_churn",
	Rewards:         "rewards_model",
	Background:      "background",
	CandidatePrefix: "new_",
}

type memSource struct {
	feedback []store.FeedbackRecord
	dataset  []store.FeedbackRecord
	err      error
}

func (m *memSource) AllFeedback(context.Context) ([]store.FeedbackRecord, error) {
	return m.feedback, m.err
}

func (m *memSource) OriginalDataset(context.Context) ([]store.FeedbackRecord, error) {
	return m.dataset, nil
}

func record(tenure, label int) store.FeedbackRecord {
	var v features.Vector
	v[0] = float64(tenure)
	v[12] = float64(tenure % 7)
	r := store.FeedbackRecord{Features: v, ActualOutput: label}
	if label == 1 {
		r.Coupons, r.Cashback = 2, 30
	}
	return r
}

func rows(n int) []store.FeedbackRecord {
	out := make([]store.FeedbackRecord, n)
	for i := range out {
		label := 0
		if i < n/2 {
			label = 1
		}
		out[i] = record(i, label)
	}
	return out
}

func testConfig() Config {
	mc := model.DefaultConfig()
	mc.Estimators = 10
	mc.MinChildSamples = 2
	return Config{
		MinFeedback:    5,
		Episodes:       20,
		Q:              QParams{Alpha: 0.1, Gamma: 0.9, Epsilon: 0.1},
		Seed:           42,
		TestFraction:   0.2,
		Model:          mc,
		BackgroundSize: 100,
	}
}

// deployedStore returns an artifact store holding trained deployed models.
func deployedStore(t *testing.T) *artifact.Store {
	t.Helper()
	arts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ts := columns(rows(20))
	ctx := context.Background()
	cfg := testConfig().Model

	c, err := model.FitClassifier(ctx, ts.X, ts.labels, cfg)
	if err != nil {
		t.Fatal(err)
	}
	r, err := model.FitRewardModel(ctx, ts.X, ts.rewards, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := arts.SaveClassifier(ctx, testNames.Churn, c, artifact.Metadata{Kind: artifact.KindClassifier}); err != nil {
		t.Fatal(err)
	}
	if err := arts.SaveRewardModel(ctx, testNames.Rewards, r, artifact.Metadata{Kind: artifact.KindRewards}); err != nil {
		t.Fatal(err)
	}
	return arts
}

func checksum(t *testing.T, arts *artifact.Store, name string) string {
	t.Helper()
	meta, err := arts.Stat(name)
	if err != nil {
		t.Fatalf("stat %s: %v", name, err)
	}
	return meta.Checksum
}

func TestReconcileKeepsLastOccurrence(t *testing.T) {
	t.Parallel()

	a0, b, a1, c := record(1, 0), record(2, 0), record(1, 1), record(3, 1)
	got := Reconcile([]store.FeedbackRecord{a0, b}, []store.FeedbackRecord{a1, c})

	want := []store.FeedbackRecord{b, a1, c}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Features != want[i].Features || got[i].ActualOutput != want[i].ActualOutput {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReconcileIgnoresLabelsInKey(t *testing.T) {
	t.Parallel()

	x := record(4, 0)
	y := x
	y.ActualOutput, y.Coupons = 1, 9
	if got := Reconcile(nil, []store.FeedbackRecord{x, y}); len(got) != 1 || got[0].Coupons != 9 {
		t.Errorf("reconciled = %+v", got)
	}
}

func TestChurnUpdateRewardsCorrectLabel(t *testing.T) {
	t.Parallel()

	for _, alpha := range []float64{0.01, 0.1, 0.5, 0.99} {
		for _, gamma := range []float64{0, 0.5, 0.9} {
			for _, truth := range []int{0, 1} {
				var tables QTables
				q := NewQLearner(QParams{Alpha: alpha, Gamma: gamma}, rand.New(rand.NewSource(1)))
				before := tables.Churn[1][truth]
				if r := q.ChurnUpdate(&tables, 1, truth, truth); r != 1 {
					t.Errorf("reward = %v, want 1", r)
				}
				if tables.Churn[1][truth] <= before {
					t.Errorf("alpha=%v gamma=%v truth=%d: Q did not increase (%v)", alpha, gamma, truth, tables.Churn[1][truth])
				}
			}
		}
	}
}

func TestChurnUpdateWrongLabel(t *testing.T) {
	t.Parallel()

	var tables QTables
	q := NewQLearner(QParams{Alpha: 0.1, Gamma: 0.9}, rand.New(rand.NewSource(1)))
	if r := q.ChurnUpdate(&tables, 0, 1, 0); r != -1 {
		t.Errorf("reward = %v, want -1", r)
	}
	if tables.Churn[0][1] >= 0 {
		t.Errorf("Q[0][1] = %v, want negative", tables.Churn[0][1])
	}
}

func TestRewardsUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current model.Rewards
		action  model.AdjustAction
		reward  float64
	}{
		{"keep", model.Rewards{Coupons: 2, Cashback: 20}, model.Keep, 0},
		{"increase", model.Rewards{Coupons: 2, Cashback: 20}, model.Increase, 11},
		{"decrease clamps", model.Rewards{Coupons: 0, Cashback: 5}, model.Decrease, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var tables QTables
			q := NewQLearner(QParams{Alpha: 0.1, Gamma: 0.9}, rand.New(rand.NewSource(1)))
			if got := q.RewardsUpdate(&tables, 1, tt.action, tt.current); got != tt.reward {
				t.Errorf("reward = %v, want %v", got, tt.reward)
			}
			if want := 0.1 * tt.reward; tables.Rewards[1][tt.action] != want {
				t.Errorf("Q = %v, want %v", tables.Rewards[1][tt.action], want)
			}
		})
	}
	if got := (model.Rewards{Coupons: 0, Cashback: 5}).Adjust(model.Decrease); got.Coupons != 0 || got.Cashback != 0 {
		t.Errorf("decrease from (0,5) = %+v, want (0,0)", got)
	}
}

func TestExploreIsSeeded(t *testing.T) {
	t.Parallel()

	arts := deployedStore(t)
	ctx := context.Background()
	c, _, err := arts.LoadClassifier(ctx, testNames.Churn)
	if err != nil {
		t.Fatal(err)
	}
	r, _, err := arts.LoadRewardModel(ctx, testNames.Rewards)
	if err != nil {
		t.Fatal(err)
	}

	run := func() QTables {
		q := NewQLearner(QParams{Alpha: 0.1, Gamma: 0.9, Epsilon: 0.3}, rand.New(rand.NewSource(7)))
		tables, err := q.Explore(ctx, rows(12), 10, c, r)
		if err != nil {
			t.Fatal(err)
		}
		return tables
	}
	first, second := run(), run()
	if first != second {
		t.Errorf("same seed produced different tables:\n%+v\n%+v", first, second)
	}
	if first.Churn == ([2][2]float64{}) {
		t.Error("churn table should have been updated")
	}
	if first.Rewards[0] != ([3]float64{}) {
		t.Error("non-churn state must never be updated")
	}
}

func TestExploreWithoutPredictors(t *testing.T) {
	t.Parallel()

	q := NewQLearner(QParams{Alpha: 0.1, Gamma: 0.9, Epsilon: 0.1}, rand.New(rand.NewSource(1)))
	tables, err := q.Explore(context.Background(), rows(8), 5, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tables != (QTables{}) {
		t.Errorf("tables = %+v, want zero", tables)
	}
}

func TestRunInsufficientFeedbackCarriesOver(t *testing.T) {
	t.Parallel()

	arts := deployedStore(t)
	loop := New(&memSource{feedback: rows(3)}, arts, testNames, testConfig(), zerolog.Nop())

	rep, err := loop.Run(context.Background())
	if !errors.Is(err, ErrInsufficientFeedback) {
		t.Fatalf("err = %v, want ErrInsufficientFeedback", err)
	}
	if rep.Result != ResultCarriedOver {
		t.Errorf("result = %q", rep.Result)
	}
	for _, name := range []string{testNames.Churn, testNames.Rewards} {
		if checksum(t, arts, name) != checksum(t, arts, "new_"+name) {
			t.Errorf("%s was not copied unchanged", name)
		}
	}
	if arts.Exists("new_background") {
		t.Error("missing background must not be created by a carry-over")
	}

	ctx := context.Background()
	old, _, _ := arts.LoadClassifier(ctx, testNames.Churn)
	carried, _, err := arts.LoadClassifier(ctx, "new_"+testNames.Churn)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows(20) {
		a, _ := old.Predict(r.Features.Slice())
		b, _ := carried.Predict(r.Features.Slice())
		if a != b {
			t.Fatal("carried-over model predicts differently")
		}
	}
}

func TestRunCarryOverWithoutDeployedModel(t *testing.T) {
	t.Parallel()

	arts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rep, err := New(&memSource{}, arts, testNames, testConfig(), zerolog.Nop()).Run(context.Background())
	if err == nil || errors.Is(err, ErrInsufficientFeedback) {
		t.Fatalf("err = %v, want a carry-over failure", err)
	}
	if !errors.Is(err, artifact.ErrNotFound) || rep.Result != ResultFailed {
		t.Errorf("err = %v, result = %q", err, rep.Result)
	}
}

func TestRunRetrains(t *testing.T) {
	t.Parallel()

	arts := deployedStore(t)
	before := checksum(t, arts, testNames.Churn)

	src := &memSource{dataset: rows(30), feedback: []store.FeedbackRecord{record(0, 0), record(40, 1)}}
	rep, err := New(src, arts, testNames, testConfig(), zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Result != ResultRetrained {
		t.Errorf("result = %q", rep.Result)
	}
	if rep.Records != 31 {
		t.Errorf("records = %d, want 31 after dedup", rep.Records)
	}
	if rep.TrainRows+rep.TestRows != rep.Records || rep.TestRows != 7 {
		t.Errorf("split = %d/%d", rep.TrainRows, rep.TestRows)
	}
	if rep.ChurnAccuracy < 0 || rep.ChurnAccuracy > 1 {
		t.Errorf("accuracy = %v", rep.ChurnAccuracy)
	}
	if len(rep.Artifacts) != 3 {
		t.Errorf("artifacts = %v", rep.Artifacts)
	}

	ctx := context.Background()
	c, meta, err := arts.LoadClassifier(ctx, "new_model_churn")
	if err != nil {
		t.Fatal(err)
	}
	if c.Width() != features.Count || meta.Source != "retrain" || meta.Rows != rep.TrainRows {
		t.Errorf("candidate = width %d, meta %+v", c.Width(), meta)
	}
	if _, _, err := arts.LoadRewardModel(ctx, "new_rewards_model"); err != nil {
		t.Error(err)
	}
	bg, _, err := arts.LoadBackground(ctx, "new_background")
	if err != nil || len(bg.Rows) != rep.TrainRows {
		t.Errorf("background = %v, %v", bg, err)
	}
	if checksum(t, arts, testNames.Churn) != before {
		t.Error("deployed model must not change before promotion")
	}
}

func TestRunWithoutDeployedModelsStillRetrains(t *testing.T) {
	t.Parallel()

	arts, err := artifact.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rep, err := New(&memSource{feedback: rows(10)}, arts, testNames, testConfig(), zerolog.Nop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Q != (QTables{}) {
		t.Error("exploration needs deployed predictors")
	}
	if !arts.Exists("new_model_churn") {
		t.Error("candidate should be written")
	}
}

func TestRunFailsFastWhenLocked(t *testing.T) {
	t.Parallel()

	t.Run("in process", func(t *testing.T) {
		t.Parallel()
		loop := New(&memSource{feedback: rows(10)}, deployedStore(t), testNames, testConfig(), zerolog.Nop())
		loop.runMu.Lock()
		defer loop.runMu.Unlock()
		if _, err := loop.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
			t.Errorf("err = %v, want ErrRunInProgress", err)
		}
	})

	t.Run("other process", func(t *testing.T) {
		t.Parallel()
		arts := deployedStore(t)
		unlock, err := arts.AcquireLock(lockName)
		if err != nil {
			t.Fatal(err)
		}
		defer unlock()
		loop := New(&memSource{feedback: rows(10)}, arts, testNames, testConfig(), zerolog.Nop())
		if _, err := loop.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
			t.Errorf("err = %v, want ErrRunInProgress", err)
		}
		if arts.Exists("new_model_churn") {
			t.Error("a blocked run must not write artifacts")
		}
	})
}

func TestRunReleasesLock(t *testing.T) {
	t.Parallel()

	arts := deployedStore(t)
	loop := New(&memSource{feedback: rows(3)}, arts, testNames, testConfig(), zerolog.Nop())
	for i := 0; i < 2; i++ {
		if _, err := loop.Run(context.Background()); !errors.Is(err, ErrInsufficientFeedback) {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestRunSourceError(t *testing.T) {
	t.Parallel()

	loop := New(&memSource{err: errors.New("store down")}, deployedStore(t), testNames, testConfig(), zerolog.Nop())
	rep, err := loop.Run(context.Background())
	if err == nil || rep.Result != ResultFailed {
		t.Errorf("err = %v, result = %q", err, rep.Result)
	}
}

func TestPromote(t *testing.T) {
	t.Parallel()

	arts := deployedStore(t)
	loop := New(&memSource{feedback: rows(12)}, arts, testNames, testConfig(), zerolog.Nop())
	if _, err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := checksum(t, arts, "new_model_churn")

	promoted, err := loop.Promote(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(promoted) != 3 {
		t.Errorf("promoted = %v", promoted)
	}
	if checksum(t, arts, testNames.Churn) != want {
		t.Error("deployed churn model should be the former candidate")
	}
	if arts.Exists("new_model_churn") {
		t.Error("candidate should be renamed away")
	}
	if _, err := loop.Promote(context.Background()); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("second promote err = %v, want ErrNotFound", err)
	}
}
