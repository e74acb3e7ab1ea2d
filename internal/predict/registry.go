// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package predict

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/churnguard/internal/artifact"
	"github.com/tomtom215/churnguard/internal/features"
	"github.com/tomtom215/churnguard/internal/metrics"
	"github.com/tomtom215/churnguard/internal/model"
)

// ChurnPredictor is the churn classifier contract.
type ChurnPredictor interface {
	Predict(x []float64) (int, error)
	PredictProba(x []float64) (float64, error)
}

// RewardPredictor is the incentive regressor contract: always two outputs.
type RewardPredictor interface {
	PredictRewards(x []float64) (model.Rewards, error)
}

// Source loads predictor artifacts. *artifact.Store implements it.
type Source interface {
	LoadClassifier(ctx context.Context, name string) (*model.Classifier, *artifact.Metadata, error)
	LoadRewardModel(ctx context.Context, name string) (*model.RewardModel, *artifact.Metadata, error)
	LoadBackground(ctx context.Context, name string) (*model.Background, *artifact.Metadata, error)
}

// ModelSet is an immutable set of loaded predictors. A load failure is kept
// in ChurnErr or RewardsErr instead of aborting the process.
type ModelSet struct {
	Churn      ChurnPredictor
	Rewards    RewardPredictor
	Background *model.Background

	ChurnErr   error
	RewardsErr error

	ChurnMeta   *artifact.Metadata
	RewardsMeta *artifact.Metadata

	Generation uint64
	LoadedAt   time.Time
}

// ChurnReady reports whether churn inference can run.
func (s *ModelSet) ChurnReady() bool { return s != nil && s.Churn != nil && s.ChurnErr == nil }

// RewardsReady reports whether reward inference can run.
func (s *ModelSet) RewardsReady() bool { return s != nil && s.Rewards != nil && s.RewardsErr == nil }

// Registry owns the live ModelSet. Readers take a Snapshot without locking;
// Reload builds a complete new set and swaps it in atomically, so a request
// sees either the old set or the new one, never a mix.
type Registry struct {
	src    Source
	names  artifact.Names
	logger zerolog.Logger

	current  atomic.Pointer[ModelSet]
	gen      atomic.Uint64
	reloadMu sync.Mutex
}

// NewRegistry creates a registry that loads names from src. Call Load before
// serving.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRegistry(src Source, names artifact.Names, logger zerolog.Logger) *Registry {
	r := &Registry{
		src:    src,
		names:  names,
		logger: logger.With().Str("component", "model_registry").Logger(),
	}
	r.current.Store(&ModelSet{
		ChurnErr:   ErrModelUnavailable,
		RewardsErr: ErrModelUnavailable,
		Background: model.ZeroBackground(features.Count),
	})
	return r
}

// NewStaticRegistry wraps an already-built set. Reload keeps it unchanged.
func NewStaticRegistry(set *ModelSet) *Registry {
	r := &Registry{logger: zerolog.Nop()}
	if set.Background == nil {
		set.Background = model.ZeroBackground(features.Count)
	}
	set.Generation = r.gen.Add(1)
	if set.LoadedAt.IsZero() {
		set.LoadedAt = time.Now()
	}
	r.current.Store(set)
	return r
}

// Snapshot returns the current set. It is never nil.
func (r *Registry) Snapshot() *ModelSet {
	return r.current.Load()
}

// Load reads all artifacts and installs the result. Individual failures are
// recorded on the set and logged; Load itself does not fail.
func (r *Registry) Load(ctx context.Context) *ModelSet {
	return r.Reload(ctx)
}

// Reload rebuilds the model set from the artifact source and swaps it in.
//
// Each artifact loads independently:
//   - churn classifier: a load failure or a feature count other than
//     features.Count leaves the set not ready, and /predict fails
//   - rewards model: a failure is tolerated; incentives fall back to zero
//   - background sample: a missing or malformed sample is replaced by a
//     zero reference row so explanation still runs
//
// Reload never fails as a whole. Errors are recorded on the returned set,
// logged and counted in metrics. The new set gets the next generation
// number and is installed atomically; requests already holding a snapshot
// keep using the old one. Concurrent reloads are serialized.
//
// A registry built without a source returns the current set unchanged.
func (r *Registry) Reload(ctx context.Context) *ModelSet {
	if r.src == nil {
		return r.Snapshot()
	}
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	set := &ModelSet{LoadedAt: time.Now()}

	churn, meta, err := r.src.LoadClassifier(ctx, r.names.Churn)
	switch {
	case err != nil:
		set.ChurnErr = err
		r.logger.Error().Err(err).Str("artifact", r.names.Churn).Msg("churn model failed to load")
	case churn.Width() != features.Count:
		set.ChurnErr = errors.New("churn model was trained on a different feature count")
		r.logger.Error().Int("width", churn.Width()).Str("artifact", r.names.Churn).Msg("churn model rejected")
	default:
		set.Churn = churn
		set.ChurnMeta = meta
	}

	rewards, meta, err := r.src.LoadRewardModel(ctx, r.names.Rewards)
	if err != nil {
		set.RewardsErr = err
		r.logger.Warn().Err(err).Str("artifact", r.names.Rewards).Msg("rewards model failed to load, incentives will be zero")
	} else {
		set.Rewards = rewards
		set.RewardsMeta = meta
	}

	bg, _, err := r.src.LoadBackground(ctx, r.names.Background)
	if err != nil || bg.Width() != features.Count {
		if err != nil && !errors.Is(err, artifact.ErrNotFound) {
			r.logger.Warn().Err(err).Str("artifact", r.names.Background).Msg("background sample unusable, using zero reference")
		}
		bg = model.ZeroBackground(features.Count)
	}
	set.Background = bg

	set.Generation = r.gen.Add(1)
	r.current.Store(set)

	metrics.RecordModelReload(set.ChurnReady(), set.RewardsReady())
	r.logger.Info().
		Uint64("generation", set.Generation).
		Bool("churn_ready", set.ChurnReady()).
		Bool("rewards_ready", set.RewardsReady()).
		Int("background_rows", len(bg.Rows)).
		Msg("model set loaded")
	return set
}
