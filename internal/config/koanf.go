// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/churnguard/config.yaml",
	"/etc/churnguard/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultMongoURI is used when MONGO_URI is unset.
const DefaultMongoURI = "mongodb://localhost:27017"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  20 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
		},
		Store: StoreConfig{
			Backend:            "mongo",
			MongoURI:           DefaultMongoURI,
			Database:           "churn_prediction",
			OutcomesCollection: "customer_rs",
			FeedbackCollection: "wrong_predictions",
			DatasetCollection:  "original_dataset",
			Timeout:            5 * time.Second,
			BreakerFailures:    5,
			BreakerTimeout:     30 * time.Second,
		},
		Models: ModelsConfig{
			Dir:             "./models",
			ChurnName:       "model_churn",
			RewardsName:     "rewards_model",
			BackgroundName:  "background",
			CandidatePrefix: "new_",
		},
		Pipeline: PipelineConfig{
			RewardsTimeout: 2 * time.Second,
			ExplainTimeout: 3 * time.Second,
			PersistTimeout: 2 * time.Second,
		},
		Explain: ExplainConfig{
			Permutations:         64,
			Seed:                 42,
			SurrogateSamples:     500,
			SurrogateKernelWidth: 0.75,
			SurrogateRidge:       1.0,
			SummarySampleSize:    50,
		},
		Retrain: RetrainConfig{
			Interval:        24 * time.Hour,
			MinFeedback:     5,
			Episodes:        100,
			Alpha:           0.1,
			Gamma:           0.9,
			Epsilon:         0.1,
			Seed:            42,
			TestFraction:    0.2,
			Estimators:      100,
			LearningRate:    0.1,
			MinChildSamples: 5,
			NumLeaves:       20,
			BackgroundSize:  100,
			Timeout:         30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf applies defaults, then the config file, then env vars,
// and validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"request_timeout":       "server.request_timeout",

	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_requests",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"admin_token":         "security.admin_token",

	"store_backend":       "store.backend",
	"mongo_uri":           "store.mongo_uri",
	"mongo_database":      "store.database",
	"outcomes_collection": "store.outcomes_collection",
	"feedback_collection": "store.feedback_collection",
	"dataset_collection":  "store.dataset_collection",
	"badger_path":         "store.badger_path",
	"store_timeout":       "store.timeout",

	"models_dir": "models.dir",

	"pipeline_render_plots":    "pipeline.render_plots",
	"pipeline_rewards_timeout": "pipeline.rewards_timeout",
	"pipeline_explain_timeout": "pipeline.explain_timeout",
	"pipeline_persist_timeout": "pipeline.persist_timeout",

	"explain_permutations": "explain.permutations",
	"explain_seed":         "explain.seed",

	"retrain_enabled":      "retrain.enabled",
	"retrain_interval":     "retrain.interval",
	"retrain_on_startup":   "retrain.on_startup",
	"retrain_min_feedback": "retrain.min_feedback",
	"retrain_episodes":     "retrain.episodes",
	"retrain_seed":         "retrain.seed",
	"retrain_timeout":      "retrain.timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps a known environment variable to its koanf path.
// Unknown variables return "" and are dropped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
