// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/churnguard/internal/config"
)

// Open builds the configured backend wrapped in Resilient.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func Open(ctx context.Context, cfg *config.StoreConfig, logger zerolog.Logger) (*Resilient, error) {
	cols := Collections{
		Outcomes: cfg.OutcomesCollection,
		Feedback: cfg.FeedbackCollection,
		Dataset:  cfg.DatasetCollection,
	}

	var backend Store
	switch cfg.Backend {
	case "mongo":
		m, err := OpenMongo(ctx, MongoConfig{
			URI:            cfg.MongoURI,
			Database:       cfg.Database,
			Collections:    cols,
			ConnectTimeout: cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		backend = m
	case "badger":
		b, err := OpenBadger(cfg.BadgerPath, cols, logger)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}

	logger.Info().Str("backend", cfg.Backend).Str("database", cfg.Database).Msg("document store opened")
	return NewResilient(backend, ResilientConfig{
		Backend:          cfg.Backend,
		Timeout:          cfg.Timeout,
		FailureThreshold: cfg.BreakerFailures,
		OpenTimeout:      cfg.BreakerTimeout,
	}, logger), nil
}
