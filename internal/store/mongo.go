// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tomtom215/churnguard/internal/features"
)

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URI         string
	Database    string
	Collections Collections
	// ConnectTimeout bounds Connect and the initial ping.
	ConnectTimeout time.Duration
}

// MongoStore implements Store on MongoDB.
type MongoStore struct {
	client   *mongo.Client
	outcomes *mongo.Collection
	feedback *mongo.Collection
	dataset  *mongo.Collection
	logger   zerolog.Logger
}

// OpenMongo connects, pings and ensures the outcomes index.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func OpenMongo(ctx context.Context, cfg MongoConfig, logger zerolog.Logger) (*MongoStore, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout).
		SetAppName("churnguard")

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:   client,
		outcomes: db.Collection(cfg.Collections.Outcomes),
		feedback: db.Collection(cfg.Collections.Feedback),
		dataset:  db.Collection(cfg.Collections.Dataset),
		logger:   logger.With().Str("component", "store").Str("backend", "mongo").Logger(),
	}
	if err := s.ensureIndexes(pingCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.outcomes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: FieldCustomerID, Value: 1}},
			// Saved forms without a customer_id stay out of the unique index.
			Options: options.Index().
				SetUnique(true).
				SetName("customer_id_unique").
				SetPartialFilterExpression(bson.M{FieldCustomerID: bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: FieldUpdatedAt, Value: -1}},
			Options: options.Index().SetName("updated_at_desc"),
		},
	})
	if err != nil {
		return fmt.Errorf("create outcome indexes: %w", err)
	}
	return nil
}

// UpsertOutcome applies doc with $set to the outcome keyed by customer_id.
func (s *MongoStore) UpsertOutcome(ctx context.Context, customerID string, doc Document) error {
	if customerID == "" {
		return errors.New("store: empty customer_id")
	}
	set := bson.M{}
	for k, v := range doc {
		if k == FieldID {
			continue
		}
		set[k] = v
	}
	set[FieldCustomerID] = customerID
	set[FieldUpdatedAt] = time.Now().UTC()

	_, err := s.outcomes.UpdateOne(ctx,
		bson.M{FieldCustomerID: customerID},
		bson.M{"$set": set},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert outcome: %w", err)
	}
	return nil
}

// Outcome finds the outcome keyed by customer_id.
func (s *MongoStore) Outcome(ctx context.Context, customerID string) (Document, error) {
	var raw bson.M
	err := s.outcomes.FindOne(ctx, bson.M{FieldCustomerID: customerID}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find outcome: %w", err)
	}
	return fromBSON(raw), nil
}

// LatestRecord returns the outcome with the newest updated_at.
func (s *MongoStore) LatestRecord(ctx context.Context) (Document, error) {
	opts := options.FindOne().SetSort(bson.D{
		{Key: FieldUpdatedAt, Value: -1},
		{Key: FieldID, Value: -1},
	})
	var raw bson.M
	err := s.outcomes.FindOne(ctx, bson.M{}, opts).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find latest outcome: %w", err)
	}
	return fromBSON(raw), nil
}

// CountWhere counts outcomes with field equal to value.
func (s *MongoStore) CountWhere(ctx context.Context, field string, value any) (int64, error) {
	n, err := s.outcomes.CountDocuments(ctx, bson.M{field: value})
	if err != nil {
		return 0, fmt.Errorf("count outcomes: %w", err)
	}
	return n, nil
}

// AllFeedback returns feedback in natural order.
func (s *MongoStore) AllFeedback(ctx context.Context) ([]FeedbackRecord, error) {
	return s.readRecords(ctx, s.feedback)
}

// OriginalDataset returns the labelled dataset in natural order.
func (s *MongoStore) OriginalDataset(ctx context.Context) ([]FeedbackRecord, error) {
	return s.readRecords(ctx, s.dataset)
}

func (s *MongoStore) readRecords(ctx context.Context, col *mongo.Collection) ([]FeedbackRecord, error) {
	cur, err := col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: FieldID, Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", col.Name(), err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("read %s: %w", col.Name(), err)
	}
	docs := make([]Document, len(raw))
	for i, r := range raw {
		docs[i] = fromBSON(r)
	}
	recs, skipped := decodeFeedback(docs)
	if skipped > 0 {
		s.logger.Warn().Str("collection", col.Name()).Int("skipped", skipped).Msg("skipped malformed documents")
	}
	return recs, nil
}

// AppendFeedback inserts rec into the feedback collection.
func (s *MongoStore) AppendFeedback(ctx context.Context, rec FeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, err := s.feedback.InsertOne(ctx, bson.M(rec.Document())); err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// SaveRecord upserts doc by its customer_id, or inserts it with a new
// ObjectID when it has none.
func (s *MongoStore) SaveRecord(ctx context.Context, doc Document) (string, error) {
	if id, ok := features.CustomerID(doc); ok {
		if err := s.UpsertOutcome(ctx, id, doc); err != nil {
			return "", err
		}
		return id, nil
	}
	ins := bson.M{}
	for k, v := range doc {
		if k == FieldID {
			continue
		}
		ins[k] = v
	}
	ins[FieldUpdatedAt] = time.Now().UTC()
	res, err := s.outcomes.InsertOne(ctx, ins)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return idString(res.InsertedID), nil
}

// Ping checks the primary.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// fromBSON converts driver types to plain Go values at the top level so
// documents encode the same way from either backend.
func fromBSON(m bson.M) Document {
	doc := make(Document, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case primitive.ObjectID:
			doc[k] = x.Hex()
		case primitive.DateTime:
			doc[k] = x.Time().UTC()
		case primitive.A:
			doc[k] = []any(x)
		default:
			doc[k] = v
		}
	}
	return doc
}

func idString(id any) string {
	switch x := id.(type) {
	case primitive.ObjectID:
		return x.Hex()
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
