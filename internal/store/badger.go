// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/churnguard/internal/features"
)

// Key layout:
//
//	<outcomes>:<customer_id>   outcome document
//	<outcomes>:<uuid>          saved record without a customer_id
//	<outcomes>!latest          key id of the last written outcome
//	<feedback>:<seq>           feedback document, seq zero-padded
//	<dataset>:<seq>            dataset row
//	seq!<collection>           badger sequence lease
const (
	latestSuffix      = "!latest"
	sequencePrefix    = "seq!"
	sequenceBandwidth = 100

	keyLockStripes = 64

	// Conflicting transactions are retried with a linear backoff.
	maxConflictRetries = 10
	conflictBackoff    = 2 * time.Millisecond
)

// BadgerStore implements Store on an embedded BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	cols   Collections
	logger zerolog.Logger

	// keyLocks serializes read-modify-write on one outcome key.
	keyLocks [keyLockStripes]sync.Mutex

	mu     sync.Mutex
	seqs   map[string]*badger.Sequence
	closed bool
}

// OpenBadger opens a database at path, or an in-memory one when path is empty.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func OpenBadger(path string, cols Collections, logger zerolog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return NewBadgerStore(db, cols, logger), nil
}

// NewBadgerStore wraps an open database. Close closes db.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewBadgerStore(db *badger.DB, cols Collections, logger zerolog.Logger) *BadgerStore {
	return &BadgerStore{
		db:     db,
		cols:   cols,
		logger: logger.With().Str("component", "store").Str("backend", "badger").Logger(),
		seqs:   make(map[string]*badger.Sequence),
	}
}

func outcomeKey(col, id string) []byte { return []byte(col + ":" + id) }

func seqKey(col string, n uint64) []byte { return []byte(fmt.Sprintf("%s:%020d", col, n)) }

// UpsertOutcome merges doc into the stored outcome.
func (s *BadgerStore) UpsertOutcome(ctx context.Context, customerID string, doc Document) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if customerID == "" {
		return errors.New("store: empty customer_id")
	}
	return s.merge(ctx, customerID, doc, true)
}

func (s *BadgerStore) keyLock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.keyLocks[h.Sum32()%keyLockStripes]
}

// merge folds doc into the outcome stored under id and moves the latest
// pointer to it. withID stamps customer_id into the stored document.
func (s *BadgerStore) merge(ctx context.Context, id string, doc Document, withID bool) error {
	lock := s.keyLock(id)
	lock.Lock()
	defer lock.Unlock()

	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return s.mergeTxn(txn, id, doc, withID)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug().Str("customer_id", id).Int("attempt", attempt).Msg("outcome write conflict, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(conflictBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("upsert outcome %s: %w", id, err)
}

func (s *BadgerStore) mergeTxn(txn *badger.Txn, id string, doc Document, withID bool) error {
	key := outcomeKey(s.cols.Outcomes, id)
	merged := Document{}
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return fmt.Errorf("get outcome: %w", err)
	default:
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &merged)
		}); err != nil {
			return fmt.Errorf("decode outcome: %w", err)
		}
	}

	for k, v := range doc {
		if k == FieldID {
			continue
		}
		merged[k] = v
	}
	if withID {
		merged[FieldCustomerID] = id
	}
	merged[FieldUpdatedAt] = time.Now().UTC()

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("set outcome: %w", err)
	}
	return txn.Set([]byte(s.cols.Outcomes+latestSuffix), []byte(id))
}

// Outcome returns the outcome stored for customerID.
func (s *BadgerStore) Outcome(ctx context.Context, customerID string) (Document, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var doc Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(outcomeKey(s.cols.Outcomes, customerID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LatestRecord returns the outcome named by the latest pointer.
func (s *BadgerStore) LatestRecord(ctx context.Context) (Document, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var doc Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(s.cols.Outcomes + latestSuffix))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(outcomeKey(s.cols.Outcomes, string(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// CountWhere scans outcomes and compares field with value. Numbers compare
// by value regardless of type.
func (s *BadgerStore) CountWhere(ctx context.Context, field string, value any) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := s.scan(ctx, s.cols.Outcomes, func(doc Document) {
		if equalValues(doc[field], value) {
			n++
		}
	})
	return n, err
}

// AllFeedback returns feedback in insertion order.
func (s *BadgerStore) AllFeedback(ctx context.Context) ([]FeedbackRecord, error) {
	return s.readRecords(ctx, s.cols.Feedback)
}

// OriginalDataset returns dataset rows in insertion order.
func (s *BadgerStore) OriginalDataset(ctx context.Context) ([]FeedbackRecord, error) {
	return s.readRecords(ctx, s.cols.Dataset)
}

func (s *BadgerStore) readRecords(ctx context.Context, col string) ([]FeedbackRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var docs []Document
	if err := s.scan(ctx, col, func(doc Document) { docs = append(docs, doc) }); err != nil {
		return nil, err
	}
	recs, skipped := decodeFeedback(docs)
	if skipped > 0 {
		s.logger.Warn().Str("collection", col).Int("skipped", skipped).Msg("skipped malformed documents")
	}
	return recs, nil
}

// AppendFeedback appends rec to the feedback collection.
func (s *BadgerStore) AppendFeedback(ctx context.Context, rec FeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := s.insert(ctx, s.cols.Feedback, rec.Document())
	return err
}

// AppendDataset appends a labelled training row.
func (s *BadgerStore) AppendDataset(ctx context.Context, rec FeedbackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := s.insert(ctx, s.cols.Dataset, rec.Document())
	return err
}

// SaveRecord merges doc into the outcome of its customer_id, or stores it
// under a fresh uuid when it has none. Either way it becomes the latest
// record.
func (s *BadgerStore) SaveRecord(ctx context.Context, doc Document) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	id, withID := features.CustomerID(doc)
	if !withID {
		id = uuid.NewString()
	}
	if err := s.merge(ctx, id, doc, withID); err != nil {
		return "", err
	}
	return id, nil
}

func (s *BadgerStore) insert(ctx context.Context, col string, doc Document) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	seq, err := s.sequence(col)
	if err != nil {
		return "", err
	}
	n, err := seq.Next()
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	key := seqKey(col, n)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return fmt.Sprintf("%d", n), nil
}

func (s *BadgerStore) sequence(col string) (*badger.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq, ok := s.seqs[col]; ok {
		return seq, nil
	}
	seq, err := s.db.GetSequence([]byte(sequencePrefix+col), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	s.seqs[col] = seq
	return seq, nil
}

// scan visits the documents under col: in key order, which for sequenced
// collections is insertion order.
func (s *BadgerStore) scan(ctx context.Context, col string, visit func(Document)) error {
	prefix := []byte(col + ":")
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc Document
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				s.logger.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("undecodable document")
				continue
			}
			visit(doc)
		}
		return nil
	})
}

// Ping reports whether the database is open.
func (s *BadgerStore) Ping(ctx context.Context) error {
	return s.check(ctx)
}

// Close releases sequences and closes the database.
func (s *BadgerStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, seq := range s.seqs {
		if err := seq.Release(); err != nil {
			s.logger.Warn().Err(err).Msg("release sequence")
		}
	}
	return s.db.Close()
}

func (s *BadgerStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

// equalValues compares two document values, treating every numeric type as
// a float64.
func equalValues(a, b any) bool {
	fa, aNum := asFloat(a)
	fb, bNum := asFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum || bNum {
		return false
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case nil:
		return b == nil
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
