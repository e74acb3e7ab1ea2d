// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/churnguard/internal/retrain"
)

// Retrainer runs one correction pass. *retrain.Loop implements it.
type Retrainer interface {
	Run(ctx context.Context) (*retrain.Report, error)
}

// RetrainServiceConfig schedules the correction loop.
type RetrainServiceConfig struct {
	// Interval between runs. Must be positive.
	Interval time.Duration

	// OnStartup runs once immediately instead of waiting one Interval.
	OnStartup bool
}

// RetrainService runs the correction loop on a ticker. Candidate artifacts
// are written but never promoted from here; promotion is an operator step.
type RetrainService struct {
	retrainer Retrainer
	cfg       RetrainServiceConfig
	logger    zerolog.Logger
	name      string
}

// NewRetrainService wraps retrainer.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRetrainService(retrainer Retrainer, cfg RetrainServiceConfig, logger zerolog.Logger) *RetrainService {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &RetrainService{
		retrainer: retrainer,
		cfg:       cfg,
		logger:    logger.With().Str("service", "retrain").Logger(),
		name:      "retrain-service",
	}
}

// Serve implements suture.Service. A failed run is logged and retried on
// the next tick; only cancellation ends the service.
func (s *RetrainService) Serve(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Bool("on_startup", s.cfg.OnStartup).
		Msg("retrain service started")

	if s.cfg.OnStartup {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("retrain service stopping")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *RetrainService) runOnce(ctx context.Context) {
	rep, err := s.retrainer.Run(ctx)
	switch {
	case errors.Is(err, retrain.ErrRunInProgress):
		s.logger.Info().Msg("correction run skipped, another run holds the lock")
	case errors.Is(err, retrain.ErrInsufficientFeedback):
		s.logger.Info().
			Str("run_id", rep.RunID).
			Int("feedback_records", rep.FeedbackRecords).
			Msg("not enough feedback, artifacts carried over")
	case err != nil:
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("correction run failed")
		}
	default:
		s.logger.Info().
			Str("run_id", rep.RunID).
			Int("records", rep.Records).
			Float64("churn_accuracy", rep.ChurnAccuracy).
			Float64("rewards_mae", rep.RewardsMAE).
			Strs("artifacts", rep.Artifacts).
			Dur("duration", rep.Duration).
			Msg("candidate models written")
	}
}

// String implements fmt.Stringer for suture logs.
func (s *RetrainService) String() string {
	return s.name
}
