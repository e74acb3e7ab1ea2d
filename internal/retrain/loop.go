// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package retrain implements the offline correction loop.
//
// A run reconciles the labeled dataset with accumulated feedback, explores
// a tabular Q-learning adjustment policy against the deployed predictors
// (diagnostic only), then refits both predictors on the reconciled rows and
// writes them under candidate names. Deployed artifacts are never touched
// by Run; Promote swaps candidates in.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/churnguard/internal/artifact"
	"github.com/tomtom215/churnguard/internal/config"
	"github.com/tomtom215/churnguard/internal/logging"
	"github.com/tomtom215/churnguard/internal/metrics"
	"github.com/tomtom215/churnguard/internal/model"
	"github.com/tomtom215/churnguard/internal/predict"
	"github.com/tomtom215/churnguard/internal/store"
)

// ErrInsufficientFeedback means the guard tripped: the deployed artifacts
// were copied to the candidate names unchanged. It is not a failure.
var ErrInsufficientFeedback = errors.New("retrain: insufficient feedback, artifacts carried over")

// ErrRunInProgress means another run holds the run-lock.
var ErrRunInProgress = errors.New("retrain: a run is already in progress")

const lockName = "retrain"

// Run results, also used as metric labels.
const (
	ResultRetrained   = "retrained"
	ResultCarriedOver = "carried_over"
	ResultFailed      = "failed"
	ResultSkipped     = "skipped"
)

// Source supplies training rows. store.Store implements it.
type Source interface {
	AllFeedback(ctx context.Context) ([]store.FeedbackRecord, error)
	OriginalDataset(ctx context.Context) ([]store.FeedbackRecord, error)
}

// Config controls one run.
type Config struct {
	MinFeedback    int
	Episodes       int
	Q              QParams
	Seed           int64
	TestFraction   float64
	Model          model.Config
	BackgroundSize int
	Timeout        time.Duration
}

// ConfigFrom maps the loaded configuration onto a loop Config.
func ConfigFrom(c *config.RetrainConfig) Config {
	mc := model.DefaultConfig()
	mc.Estimators = c.Estimators
	mc.LearningRate = c.LearningRate
	mc.MinChildSamples = c.MinChildSamples
	mc.NumLeaves = c.NumLeaves
	return Config{
		MinFeedback:    c.MinFeedback,
		Episodes:       c.Episodes,
		Q:              QParams{Alpha: c.Alpha, Gamma: c.Gamma, Epsilon: c.Epsilon},
		Seed:           c.Seed,
		TestFraction:   c.TestFraction,
		Model:          mc,
		BackgroundSize: c.BackgroundSize,
		Timeout:        c.Timeout,
	}
}

// Report summarizes a run.
type Report struct {
	RunID  string `json:"run_id"`
	Result string `json:"result"`

	FeedbackRecords int `json:"feedback_records"`
	DatasetRecords  int `json:"dataset_records"`
	SkippedRecords  int `json:"skipped_records,omitempty"`
	Records         int `json:"records"`
	TrainRows       int `json:"train_rows"`
	TestRows        int `json:"test_rows"`

	Q QTables `json:"q_tables"`

	ChurnAccuracy float64 `json:"churn_accuracy"`
	RewardsMAE    float64 `json:"rewards_mae"`

	Artifacts []string      `json:"artifacts"`
	Duration  time.Duration `json:"duration"`
}

// Loop is the correction loop. Runs are single-flight per process through
// a mutex and across processes through a lock file next to the artifacts.
type Loop struct {
	src    Source
	arts   *artifact.Store
	names  artifact.Names
	cfg    Config
	logger zerolog.Logger

	runMu sync.Mutex
}

// New returns a loop reading rows from src and artifacts from arts.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(src Source, arts *artifact.Store, names artifact.Names, cfg Config, logger zerolog.Logger) *Loop {
	return &Loop{
		src:    src,
		arts:   arts,
		names:  names,
		cfg:    cfg,
		logger: logger.With().Str("component", "retrain").Logger(),
	}
}

// Run executes one correction run.
//
// A run loads the feedback and the labelled dataset from the Source,
// reconciles them into one training table, refits the churn classifier and
// the reward model, evaluates them on a held-out split and writes them as
// candidate artifacts. Serving models are untouched until Promote.
//
// Runs never overlap. A second call while one is active, in this process
// or another holding the artifact lock, returns ErrRunInProgress and a nil
// report. With too little feedback and no dataset the rows are carried
// over for the next run, and Run returns the report together with
// ErrInsufficientFeedback. Any other error marks the report failed.
//
// Every log line of the run carries its run_id, which is also set on ctx
// for the stages below it.
//
// Example usage:
//
//	rep, err := loop.Run(ctx)
//	switch {
//	case errors.Is(err, retrain.ErrInsufficientFeedback):
//		// nothing trained, try again later
//	case err != nil:
//		return err
//	}
//	fmt.Println(rep.RunID, rep.ChurnAccuracy)
func (l *Loop) Run(ctx context.Context) (*Report, error) {
	if !l.runMu.TryLock() {
		metrics.RecordRetrainRun(ResultSkipped, 0, 0, 0)
		return nil, ErrRunInProgress
	}
	defer l.runMu.Unlock()

	unlock, err := l.arts.AcquireLock(lockName)
	if err != nil {
		metrics.RecordRetrainRun(ResultSkipped, 0, 0, 0)
		if errors.Is(err, artifact.ErrLocked) {
			return nil, fmt.Errorf("%w: %v", ErrRunInProgress, err)
		}
		return nil, err
	}
	defer unlock()

	start := time.Now()
	rep := &Report{RunID: logging.GenerateRunID()}
	ctx = logging.ContextWithRunID(ctx, rep.RunID)
	log := l.logger.With().Str("run_id", rep.RunID).Logger()

	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	err = l.run(ctx, rep, &log)
	rep.Duration = time.Since(start)

	switch {
	case errors.Is(err, ErrInsufficientFeedback):
		rep.Result = ResultCarriedOver
	case err != nil:
		rep.Result = ResultFailed
		log.Error().Err(err).Dur("duration", rep.Duration).Msg("correction run failed")
	default:
		rep.Result = ResultRetrained
	}
	metrics.RecordRetrainRun(rep.Result, rep.Duration, rep.Records, rep.ChurnAccuracy)
	return rep, err
}

func (l *Loop) run(ctx context.Context, rep *Report, log *zerolog.Logger) error {
	feedback, err := l.src.AllFeedback(ctx)
	if err != nil {
		return fmt.Errorf("load feedback: %w", err)
	}
	dataset, err := l.src.OriginalDataset(ctx)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	rep.FeedbackRecords, rep.DatasetRecords = len(feedback), len(dataset)

	log.Info().
		Int("feedback", len(feedback)).
		Int("dataset", len(dataset)).
		Msg("loaded correction rows")

	if len(feedback) < l.cfg.MinFeedback && len(dataset) == 0 {
		if err := l.carryOver(ctx, rep); err != nil {
			return err
		}
		log.Warn().
			Int("feedback", len(feedback)).
			Int("min_feedback", l.cfg.MinFeedback).
			Msg("not enough feedback to retrain, deployed models copied unchanged")
		return ErrInsufficientFeedback
	}

	recs := Reconcile(dataset, feedback)
	rep.Records = len(recs)

	rep.Q, err = l.explore(ctx, feedback, log)
	if err != nil {
		return err
	}
	log.Info().
		Interface("q_churn", rep.Q.Churn).
		Interface("q_rewards", rep.Q.Rewards).
		Msg("q-learning exploration finished")

	return l.refit(ctx, recs, rep, log)
}

// carryOver copies the deployed artifacts to the candidate names. A missing
// background is not an error; a missing predictor is.
func (l *Loop) carryOver(ctx context.Context, rep *Report) error {
	for _, name := range l.names.All() {
		to := l.names.Candidate(name)
		err := l.arts.Copy(ctx, name, to)
		if errors.Is(err, artifact.ErrNotFound) && name == l.names.Background {
			continue
		}
		if err != nil {
			return fmt.Errorf("carry over %s: %w", name, err)
		}
		rep.Artifacts = append(rep.Artifacts, to)
	}
	return nil
}

// explore loads the deployed predictors and runs Q-learning over the
// feedback rows. A predictor that fails to load leaves its table at zero.
func (l *Loop) explore(ctx context.Context, feedback []store.FeedbackRecord, log *zerolog.Logger) (QTables, error) {
	var (
		churn   predict.ChurnPredictor
		rewards predict.RewardPredictor
	)
	if c, _, err := l.arts.LoadClassifier(ctx, l.names.Churn); err == nil {
		churn = c
	} else {
		log.Warn().Err(err).Msg("deployed churn model unavailable, skipping churn exploration")
	}
	if r, _, err := l.arts.LoadRewardModel(ctx, l.names.Rewards); err == nil {
		rewards = r
	} else {
		log.Warn().Err(err).Msg("deployed rewards model unavailable, skipping rewards exploration")
	}

	rng := rand.New(rand.NewSource(l.cfg.Seed)) //nolint:gosec // exploration, not security
	return NewQLearner(l.cfg.Q, rng).Explore(ctx, feedback, l.cfg.Episodes, churn, rewards)
}

// refit trains both predictors concurrently on the training split, scores
// them on the hold-out split and writes the candidates.
func (l *Loop) refit(ctx context.Context, recs []store.FeedbackRecord, rep *Report, log *zerolog.Logger) error {
	if len(recs) < 2 {
		return fmt.Errorf("retrain: %d reconciled rows, need at least 2", len(recs))
	}
	all := columns(recs)
	trainIdx, testIdx := model.TrainTestSplit(len(recs), l.cfg.TestFraction, l.cfg.Seed)
	train, test := all.subset(trainIdx), all.subset(testIdx)
	rep.TrainRows, rep.TestRows = len(trainIdx), len(testIdx)

	var (
		churn   *model.Classifier
		rewards *model.RewardModel
	)
	fitStart := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := model.FitClassifier(gctx, train.X, train.labels, l.cfg.Model)
		if err != nil {
			return fmt.Errorf("fit churn model: %w", err)
		}
		churn = c
		return nil
	})
	g.Go(func() error {
		r, err := model.FitRewardModel(gctx, train.X, train.rewards, l.cfg.Model)
		if err != nil {
			return fmt.Errorf("fit rewards model: %w", err)
		}
		rewards = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	fitDur := time.Since(fitStart)

	var err error
	rep.ChurnAccuracy, rep.RewardsMAE, err = score(churn, rewards, test)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	meta := func(kind string, holdout float64) artifact.Metadata {
		return artifact.Metadata{
			Kind:               kind,
			Source:             "retrain",
			TrainedAt:          now,
			Rows:               len(trainIdx),
			HoldoutScore:       holdout,
			TrainingDurationMS: fitDur.Milliseconds(),
		}
	}

	cand := l.names.Candidates()
	if err := l.arts.SaveClassifier(ctx, cand.Churn, churn, meta(artifact.KindClassifier, rep.ChurnAccuracy)); err != nil {
		return fmt.Errorf("save %s: %w", cand.Churn, err)
	}
	if err := l.arts.SaveRewardModel(ctx, cand.Rewards, rewards, meta(artifact.KindRewards, rep.RewardsMAE)); err != nil {
		return fmt.Errorf("save %s: %w", cand.Rewards, err)
	}
	bg := model.SampleBackground(train.X, l.cfg.BackgroundSize, l.cfg.Seed)
	if err := l.arts.SaveBackground(ctx, cand.Background, bg, meta(artifact.KindBackground, 0)); err != nil {
		return fmt.Errorf("save %s: %w", cand.Background, err)
	}
	rep.Artifacts = append(rep.Artifacts, cand.Churn, cand.Rewards, cand.Background)

	log.Info().
		Int("records", rep.Records).
		Int("train_rows", rep.TrainRows).
		Int("test_rows", rep.TestRows).
		Float64("churn_accuracy", rep.ChurnAccuracy).
		Float64("rewards_mae", rep.RewardsMAE).
		Dur("fit_duration", fitDur).
		Strs("artifacts", rep.Artifacts).
		Msg("candidate models written")
	return nil
}

// score returns hold-out accuracy of churn and the mean absolute error of
// rewards across both outputs. An empty hold-out scores zero.
func score(churn *model.Classifier, rewards *model.RewardModel, test trainingSet) (float64, float64, error) {
	if len(test.X) == 0 {
		return 0, 0, nil
	}
	gotLabels := make([]float64, len(test.X))
	want := make([]float64, 0, 2*len(test.X))
	got := make([]float64, 0, 2*len(test.X))
	for i, x := range test.X {
		p, err := churn.Predict(x)
		if err != nil {
			return 0, 0, fmt.Errorf("score churn model: %w", err)
		}
		gotLabels[i] = float64(p)

		r, err := rewards.PredictRewards(x)
		if err != nil {
			return 0, 0, fmt.Errorf("score rewards model: %w", err)
		}
		want = append(want, test.rewards[i].Coupons, test.rewards[i].Cashback)
		got = append(got, r.Coupons, r.Cashback)
	}
	return model.Accuracy(test.labels, gotLabels), model.MeanAbsoluteError(want, got), nil
}

// Promote renames the candidate artifacts over the deployed ones. It takes
// the run-lock so it cannot interleave with a run. The background is
// promoted only when a candidate exists.
func (l *Loop) Promote(ctx context.Context) ([]string, error) {
	if !l.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer l.runMu.Unlock()

	unlock, err := l.arts.AcquireLock(lockName)
	if err != nil {
		if errors.Is(err, artifact.ErrLocked) {
			return nil, fmt.Errorf("%w: %v", ErrRunInProgress, err)
		}
		return nil, err
	}
	defer unlock()

	names := []string{l.names.Churn, l.names.Rewards}
	if l.arts.Exists(l.names.Candidate(l.names.Background)) {
		names = append(names, l.names.Background)
	}
	if err := l.arts.Promote(ctx, l.names.CandidatePrefix, names...); err != nil {
		return nil, err
	}
	l.logger.Info().Strs("artifacts", names).Msg("candidate models promoted")
	return names, nil
}
