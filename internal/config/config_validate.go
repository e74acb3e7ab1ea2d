// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomtom215/churnguard/internal/logging"
	"github.com/tomtom215/churnguard/internal/validation"
)

// Validate checks field ranges via struct tags, then the cross-field rules.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if err := c.validateRetrain(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	if c.Store.Backend != "mongo" {
		return nil
	}
	if c.Store.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required when STORE_BACKEND=mongo")
	}
	u, err := url.Parse(c.Store.MongoURI)
	if err != nil {
		return fmt.Errorf("MONGO_URI is not a valid URI: %w", err)
	}
	if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
		return fmt.Errorf("MONGO_URI must use mongodb:// or mongodb+srv://, got %q", u.Scheme)
	}
	if c.Store.Database == "" {
		return fmt.Errorf("store.database is required when STORE_BACKEND=mongo")
	}
	return nil
}

func (c *Config) validateModels() error {
	names := []string{c.Models.ChurnName, c.Models.RewardsName, c.Models.BackgroundName}
	for _, n := range names {
		if strings.ContainsAny(n, `/\`) {
			return fmt.Errorf("model artifact name %q must not contain a path separator", n)
		}
		if strings.HasPrefix(n, c.Models.CandidatePrefix) {
			return fmt.Errorf("model artifact name %q must not start with candidate prefix %q", n, c.Models.CandidatePrefix)
		}
	}
	return nil
}

func (c *Config) validateRetrain() error {
	if c.Retrain.Enabled && c.Retrain.Interval <= 0 {
		return fmt.Errorf("RETRAIN_INTERVAL must be positive when RETRAIN_ENABLED=true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL %q is not a recognized level", c.Logging.Level)
	}
	return nil
}
