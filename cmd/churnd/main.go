// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package main is churnd, the Churnguard prediction server.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, config.yaml, environment)
//  2. Logging (zerolog)
//  3. Document store (MongoDB or Badger, behind a circuit breaker)
//  4. Model registry (churn classifier, rewards regressor, explainer background)
//  5. Prediction pipeline and HTTP router
//  6. Supervisor tree: HTTP server, plus the scheduled correction loop
//     when RETRAIN_ENABLED=true
//
// A missing model is not fatal. churnd starts, /health/ready reports
// not_ready and /predict answers 500 until POST /admin/reload finds one.
//
// SIGINT and SIGTERM cancel the tree; in-flight requests get
// HTTP_SHUTDOWN_TIMEOUT to finish and the store is closed last.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/churnguard/internal/api"
	"github.com/tomtom215/churnguard/internal/artifact"
	"github.com/tomtom215/churnguard/internal/config"
	"github.com/tomtom215/churnguard/internal/explain"
	"github.com/tomtom215/churnguard/internal/logging"
	"github.com/tomtom215/churnguard/internal/pipeline"
	"github.com/tomtom215/churnguard/internal/predict"
	"github.com/tomtom215/churnguard/internal/retrain"
	"github.com/tomtom215/churnguard/internal/store"
	"github.com/tomtom215/churnguard/internal/supervisor"
	"github.com/tomtom215/churnguard/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("store", cfg.Store.Backend).
		Str("models_dir", cfg.Models.Dir).
		Bool("retrain_enabled", cfg.Retrain.Enabled).
		Msg("Starting churnd")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	docs, err := store.Open(ctx, &cfg.Store, logging.WithComponent("store"))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open document store")
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer done()
		if err := docs.Close(closeCtx); err != nil {
			logging.Error().Err(err).Msg("Error closing document store")
		}
	}()

	arts, err := artifact.NewStore(cfg.Models.Dir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open model directory")
	}
	names := artifact.Names{
		Churn:           cfg.Models.ChurnName,
		Rewards:         cfg.Models.RewardsName,
		Background:      cfg.Models.BackgroundName,
		CandidatePrefix: cfg.Models.CandidatePrefix,
	}

	registry := predict.NewRegistry(arts, names, logging.WithComponent("models"))
	set := registry.Load(ctx)
	if !set.ChurnReady() {
		logging.Warn().Err(set.ChurnErr).Msg("Churn model unavailable; /predict will fail until reload")
	}
	if !set.RewardsReady() {
		logging.Warn().Err(set.RewardsErr).Msg("Rewards model unavailable; churn responses will carry zero incentives")
	}

	engine := predict.NewEngine(registry)
	explainer := explain.New(explain.Config{
		Permutations:         cfg.Explain.Permutations,
		Seed:                 cfg.Explain.Seed,
		SurrogateSamples:     cfg.Explain.SurrogateSamples,
		SurrogateKernelWidth: cfg.Explain.SurrogateKernelWidth,
		SurrogateRidge:       cfg.Explain.SurrogateRidge,
		SummarySampleSize:    cfg.Explain.SummarySampleSize,
	})
	orchestrator := pipeline.New(engine, explainer, docs, pipeline.Config{
		RewardsTimeout: cfg.Pipeline.RewardsTimeout,
		ExplainTimeout: cfg.Pipeline.ExplainTimeout,
		PersistTimeout: cfg.Pipeline.PersistTimeout,
		RenderPlots:    cfg.Pipeline.RenderPlots,
	})

	handler := api.NewHandler(api.Dependencies{
		Pipeline:       orchestrator,
		Models:         registry,
		Summarizer:     explainer,
		Store:          docs,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	router := api.NewRouter(handler, api.NewChiMiddleware(api.MiddlewareConfigFrom(&cfg.Security)), cfg.Security.AdminToken)
	if cfg.Security.AdminToken == "" {
		logging.Info().Msg("ADMIN_TOKEN not set; /admin/reload is disabled")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       2 * cfg.Server.WriteTimeout,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	if cfg.Retrain.Enabled {
		loop := retrain.New(docs, arts, names, retrain.ConfigFrom(&cfg.Retrain), logging.Logger())
		tree.AddJobService(services.NewRetrainService(loop, services.RetrainServiceConfig{
			Interval:  cfg.Retrain.Interval,
			OnStartup: cfg.Retrain.OnStartup,
		}, logging.Logger()))
		logging.Info().Dur("interval", cfg.Retrain.Interval).Msg("Scheduled correction loop enabled")
	}

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for services to stop")
		if err := <-errCh; err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Msg("Supervisor stopped with error")
		}
	case err := <-errCh:
		if err != nil {
			logging.Error().Err(err).Msg("Supervisor tree stopped unexpectedly")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
		}
	}

	logging.Info().Msg("churnd stopped")
}
