// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package config loads Churnguard configuration with koanf.
//
// Sources are layered, later ones winning:
//
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH, ./config.yaml, /etc/churnguard/config.yaml)
//  3. Environment variables listed in envMappings
//
// The same Config drives both binaries: churnd reads Server, Security,
// Pipeline and Explain; churnctl mostly reads Retrain. Store, Models and
// Logging are shared.
package config

import (
	"fmt"
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Store    StoreConfig    `koanf:"store"`
	Models   ModelsConfig   `koanf:"models"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Explain  ExplainConfig  `koanf:"explain"`
	Retrain  RetrainConfig  `koanf:"retrain"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`

	// ReadTimeout and WriteTimeout bound a single HTTP exchange.
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`

	// ShutdownTimeout is how long in-flight requests get on SIGTERM.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// RequestTimeout is the overall budget of a /predict call.
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig configures CORS, rate limits and the admin endpoint.
type SecurityConfig struct {
	// CORSOrigins defaults to "*" so the dashboard can be served from anywhere.
	CORSOrigins []string `koanf:"cors_origins"`

	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	// AdminToken guards POST /admin/reload. Empty disables the endpoint.
	AdminToken string `koanf:"admin_token"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	// Backend is mongo (default) or badger.
	Backend string `koanf:"backend" validate:"oneof=mongo badger"`

	// MongoURI is read from MONGO_URI.
	MongoURI string `koanf:"mongo_uri"`
	Database string `koanf:"database"`

	OutcomesCollection string `koanf:"outcomes_collection" validate:"required"`
	FeedbackCollection string `koanf:"feedback_collection" validate:"required"`
	DatasetCollection  string `koanf:"dataset_collection" validate:"required"`

	// BadgerPath is the on-disk directory. Empty means in-memory.
	BadgerPath string `koanf:"badger_path"`

	// Timeout bounds each store call when the caller has no deadline.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gte=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// ModelsConfig names the predictor artifacts on disk.
type ModelsConfig struct {
	Dir            string `koanf:"dir" validate:"required"`
	ChurnName      string `koanf:"churn_name" validate:"required"`
	RewardsName    string `koanf:"rewards_name" validate:"required"`
	BackgroundName string `koanf:"background_name" validate:"required"`

	// CandidatePrefix marks artifacts produced by the correction loop.
	CandidatePrefix string `koanf:"candidate_prefix" validate:"required"`
}

// PipelineConfig bounds the best-effort stages of a prediction.
type PipelineConfig struct {
	RewardsTimeout time.Duration `koanf:"rewards_timeout" validate:"gt=0"`
	ExplainTimeout time.Duration `koanf:"explain_timeout" validate:"gt=0"`
	PersistTimeout time.Duration `koanf:"persist_timeout" validate:"gt=0"`

	// RenderPlots adds shap_plot and lime_plot to churn responses.
	RenderPlots bool `koanf:"render_plots"`
}

// ExplainConfig tunes the attribution and surrogate explainers.
type ExplainConfig struct {
	// Permutations is the Monte-Carlo sample count for Shapley values.
	Permutations int   `koanf:"permutations" validate:"min=1,max=10000"`
	Seed         int64 `koanf:"seed"`

	SurrogateSamples     int     `koanf:"surrogate_samples" validate:"min=20"`
	SurrogateKernelWidth float64 `koanf:"surrogate_kernel_width" validate:"gt=0"`
	SurrogateRidge       float64 `koanf:"surrogate_ridge" validate:"gte=0"`

	// SummarySampleSize caps the rows used by /model-summary.
	SummarySampleSize int `koanf:"summary_sample_size" validate:"min=1"`
}

// RetrainConfig configures the correction loop.
type RetrainConfig struct {
	// Enabled runs the loop on a schedule inside churnd.
	Enabled   bool          `koanf:"enabled"`
	Interval  time.Duration `koanf:"interval"`
	OnStartup bool          `koanf:"on_startup"`

	// MinFeedback is the guard below which no retraining happens.
	MinFeedback int `koanf:"min_feedback" validate:"min=1"`

	Episodes int     `koanf:"episodes" validate:"min=1"`
	Alpha    float64 `koanf:"alpha" validate:"gt=0,lt=1"`
	Gamma    float64 `koanf:"gamma" validate:"gte=0,lt=1"`
	Epsilon  float64 `koanf:"epsilon" validate:"gte=0,lte=1"`
	Seed     int64   `koanf:"seed"`

	TestFraction float64 `koanf:"test_fraction" validate:"gt=0,lt=1"`

	Estimators      int     `koanf:"estimators" validate:"min=1"`
	LearningRate    float64 `koanf:"learning_rate" validate:"gt=0,lte=1"`
	MinChildSamples int     `koanf:"min_child_samples" validate:"min=1"`
	NumLeaves       int     `koanf:"num_leaves" validate:"min=2"`

	// BackgroundSize caps the explainer background sample written with new artifacts.
	BackgroundSize int `koanf:"background_size" validate:"min=1"`

	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
