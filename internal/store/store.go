// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package store persists prediction outcomes and correction feedback.
//
// Three collections are used:
//
//	outcomes  (customer_rs)        one document per customer_id, written by /save-churn-data and /predict
//	feedback  (wrong_predictions)  labelled corrections consumed by the correction loop
//	dataset   (original_dataset)   optional labelled training rows
//
// Documents are flat: the thirteen camelCase feature fields sit next to the
// outcome or label fields. Two backends implement Store: MongoDB for
// deployments and BadgerDB for single-node and test use. Resilient wraps
// either one with a circuit breaker and metrics.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/churnguard/internal/features"
	"github.com/tomtom215/churnguard/internal/validation"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

// Field names shared by both backends.
const (
	FieldCustomerID      = "customer_id"
	FieldPredictedOutput = "predicted_output"
	FieldActualOutput    = "actual_output"
	FieldCoupons         = "coupons"
	FieldCashback        = "cashback"
	FieldExplanation     = "explanation"
	FieldPredictedAt     = "predicted_at"
	FieldUpdatedAt       = "updated_at"
	FieldRecordedAt      = "recorded_at"
	FieldID              = "_id"

	// labelAlias is the label column name of the labelled dataset export.
	labelAlias = "Churn"
)

// Collections names the three collections. BadgerStore uses them as key
// prefixes.
type Collections struct {
	Outcomes string
	Feedback string
	Dataset  string
}

// Store is the document store contract. Each call is atomic per document;
// there are no cross-document transactions.
type Store interface {
	// UpsertOutcome merges doc into the outcome keyed by customerID,
	// creating it when absent. Repeating a call leaves one document.
	UpsertOutcome(ctx context.Context, customerID string, doc Document) error

	// Outcome returns the outcome keyed by customerID, or ErrNotFound.
	Outcome(ctx context.Context, customerID string) (Document, error)

	// LatestRecord returns the most recently written outcome.
	LatestRecord(ctx context.Context) (Document, error)

	// CountWhere counts outcomes whose field equals value.
	CountWhere(ctx context.Context, field string, value any) (int64, error)

	// AllFeedback returns feedback in insertion order.
	AllFeedback(ctx context.Context) ([]FeedbackRecord, error)

	// OriginalDataset returns the labelled dataset in insertion order.
	OriginalDataset(ctx context.Context) ([]FeedbackRecord, error)

	// AppendFeedback records one correction.
	AppendFeedback(ctx context.Context, rec FeedbackRecord) error

	// SaveRecord stores a submitted form in the outcomes collection,
	// merging it into the outcome of its customer_id when it carries one,
	// and returns the stored id. The saved document becomes LatestRecord.
	SaveRecord(ctx context.Context, doc Document) (string, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Document is a schemaless stored document.
type Document map[string]any

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Attribution is one explanation entry as stored.
type Attribution struct {
	Feature string  `json:"feature" bson:"feature"`
	Value   float64 `json:"value" bson:"value"`
}

// Outcome is the result of one prediction.
type Outcome struct {
	CustomerID      string
	Features        features.Vector
	PredictedOutput int
	Coupons         int
	Cashback        int
	Explanation     []Attribution
	PredictedAt     time.Time
}

// Document flattens o into the stored form. Explanation is omitted when nil.
func (o Outcome) Document() Document {
	doc := Document{}
	for k, v := range o.Features.Map() {
		doc[k] = v
	}
	if o.CustomerID != "" {
		doc[FieldCustomerID] = o.CustomerID
	}
	doc[FieldPredictedOutput] = o.PredictedOutput
	doc[FieldCoupons] = o.Coupons
	doc[FieldCashback] = o.Cashback
	if o.Explanation != nil {
		doc[FieldExplanation] = o.Explanation
	}
	at := o.PredictedAt
	if at.IsZero() {
		at = time.Now()
	}
	doc[FieldPredictedAt] = at.UTC()
	return doc
}

// FeedbackRecord is a feature row with its ground truth and the incentive
// that should have been offered.
type FeedbackRecord struct {
	CustomerID   string          `json:"customer_id,omitempty"`
	Features     features.Vector `json:"-"`
	ActualOutput int             `json:"actual_output" validate:"binary"`
	Coupons      int             `json:"coupons" validate:"gte=0"`
	Cashback     int             `json:"cashback" validate:"gte=0"`
	RecordedAt   time.Time       `json:"recorded_at,omitempty"`
}

// Validate checks label and incentive ranges.
func (f *FeedbackRecord) Validate() error {
	return validation.ValidateStruct(f)
}

// Document flattens f into the stored form.
func (f *FeedbackRecord) Document() Document {
	doc := Document{}
	for k, v := range f.Features.Map() {
		doc[k] = v
	}
	if f.CustomerID != "" {
		doc[FieldCustomerID] = f.CustomerID
	}
	doc[FieldActualOutput] = f.ActualOutput
	doc[FieldCoupons] = f.Coupons
	doc[FieldCashback] = f.Cashback
	at := f.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}
	doc[FieldRecordedAt] = at.UTC()
	return doc
}

// FeedbackFromDocument parses a stored feedback or dataset row. The label
// is actual_output, or Churn for dataset exports. Missing coupons and
// cashback default to zero.
func FeedbackFromDocument(doc Document) (FeedbackRecord, error) {
	v, err := features.Build(doc)
	if err != nil {
		return FeedbackRecord{}, err
	}
	rec := FeedbackRecord{Features: v}
	if id, ok := features.CustomerID(doc); ok {
		rec.CustomerID = id
	}

	label, ok := doc[FieldActualOutput]
	if !ok {
		label, ok = doc[labelAlias]
	}
	if !ok {
		return FeedbackRecord{}, fmt.Errorf("store: document has no %s", FieldActualOutput)
	}
	if rec.ActualOutput, err = intField(FieldActualOutput, label); err != nil {
		return FeedbackRecord{}, err
	}
	if raw, ok := doc[FieldCoupons]; ok && raw != nil {
		if rec.Coupons, err = intField(FieldCoupons, raw); err != nil {
			return FeedbackRecord{}, err
		}
	}
	if raw, ok := doc[FieldCashback]; ok && raw != nil {
		if rec.Cashback, err = intField(FieldCashback, raw); err != nil {
			return FeedbackRecord{}, err
		}
	}
	switch t := doc[FieldRecordedAt].(type) {
	case time.Time:
		rec.RecordedAt = t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			rec.RecordedAt = parsed
		}
	}
	if err := rec.Validate(); err != nil {
		return FeedbackRecord{}, err
	}
	return rec, nil
}

// decodeFeedback parses docs, skipping malformed ones. It returns the
// records and the number skipped.
func decodeFeedback(docs []Document) ([]FeedbackRecord, int) {
	out := make([]FeedbackRecord, 0, len(docs))
	skipped := 0
	for _, d := range docs {
		rec, err := FeedbackFromDocument(d)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, skipped
}

func intField(name string, raw any) (int, error) {
	n, ok := features.Int(raw)
	if !ok {
		return 0, fmt.Errorf("store: field %q must be an integer", name)
	}
	return n, nil
}
