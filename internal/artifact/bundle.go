// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/churnguard/internal/model"
)

// Artifact kinds.
const (
	KindClassifier = "classifier"
	KindRewards    = "rewards"
	KindBackground = "background"
)

// Names maps the three predictor roles to artifact names.
type Names struct {
	Churn      string
	Rewards    string
	Background string

	// CandidatePrefix is prepended to names written by the correction loop.
	CandidatePrefix string
}

// Candidate returns the correction-loop name for a deployed name.
func (n Names) Candidate(name string) string { return n.CandidatePrefix + name }

// All returns the deployed names in a fixed order.
func (n Names) All() []string { return []string{n.Churn, n.Rewards, n.Background} }

// Candidates returns a Names whose fields are the candidate names.
func (n Names) Candidates() Names {
	return Names{
		Churn:      n.Candidate(n.Churn),
		Rewards:    n.Candidate(n.Rewards),
		Background: n.Candidate(n.Background),
	}
}

// SaveClassifier stores a churn classifier.
//
//nolint:gocritic // meta passed by value is acceptable for this write operation
func (s *Store) SaveClassifier(ctx context.Context, name string, c *model.Classifier, meta Metadata) error {
	meta.Kind = KindClassifier
	return s.Save(ctx, name, c, meta)
}

// LoadClassifier loads a churn classifier.
func (s *Store) LoadClassifier(ctx context.Context, name string) (*model.Classifier, *Metadata, error) {
	var c model.Classifier
	meta, err := s.Load(ctx, name, &c)
	if err != nil {
		return nil, nil, err
	}
	if err := checkKind(meta, KindClassifier); err != nil {
		return nil, nil, err
	}
	if c.NumFeatures == 0 {
		return nil, nil, fmt.Errorf("%s: classifier has no features", name)
	}
	return &c, meta, nil
}

// SaveRewardModel stores the incentive regressor.
//
//nolint:gocritic // meta passed by value is acceptable for this write operation
func (s *Store) SaveRewardModel(ctx context.Context, name string, r *model.RewardModel, meta Metadata) error {
	meta.Kind = KindRewards
	return s.Save(ctx, name, r.Regressor, meta)
}

// LoadRewardModel loads the incentive regressor and checks its output arity.
// A regressor with anything but two outputs is a configuration error.
func (s *Store) LoadRewardModel(ctx context.Context, name string) (*model.RewardModel, *Metadata, error) {
	var m model.MultiRegressor
	meta, err := s.Load(ctx, name, &m)
	if err != nil {
		return nil, nil, err
	}
	if err := checkKind(meta, KindRewards); err != nil {
		return nil, nil, err
	}
	rm, err := model.NewRewardModel(&m)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return rm, meta, nil
}

// SaveBackground stores an explainer background sample.
//
//nolint:gocritic // meta passed by value is acceptable for this write operation
func (s *Store) SaveBackground(ctx context.Context, name string, b *model.Background, meta Metadata) error {
	meta.Kind = KindBackground
	meta.Rows = len(b.Rows)
	return s.Save(ctx, name, b, meta)
}

// LoadBackground loads an explainer background sample.
func (s *Store) LoadBackground(ctx context.Context, name string) (*model.Background, *Metadata, error) {
	var b model.Background
	meta, err := s.Load(ctx, name, &b)
	if err != nil {
		return nil, nil, err
	}
	if err := checkKind(meta, KindBackground); err != nil {
		return nil, nil, err
	}
	if len(b.Rows) == 0 {
		return nil, nil, errors.New(name + ": background sample is empty")
	}
	return &b, meta, nil
}

func checkKind(meta *Metadata, want string) error {
	if meta.Kind != want {
		return fmt.Errorf("%s: artifact kind is %q, want %q", meta.Name, meta.Kind, want)
	}
	return nil
}
