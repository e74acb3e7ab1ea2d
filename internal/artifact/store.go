// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

// Package artifact persists trained predictors on the local filesystem.
//
// # Storage Format
//
// Each artifact is <dir>/<name>.gob.gz: a gob-encoded storedFile holding
// Metadata and the gzip-compressed gob encoding of the model. The metadata
// carries a SHA-256 checksum of the uncompressed model bytes, verified on
// every Load.
//
// # Candidates
//
// The correction loop never overwrites deployed artifacts. It writes
// candidates under a prefixed name (new_model_churn) and Promote later
// renames them over the deployed names. Writes go to a temp file first and
// are renamed into place, so a reader never sees a half-written artifact.
package artifact

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Ext is the artifact file extension.
const Ext = ".gob.gz"

// ErrNotFound is returned when an artifact does not exist.
var ErrNotFound = errors.New("artifact: not found")

// ErrLocked is returned by AcquireLock when the lock is already held.
var ErrLocked = errors.New("artifact: lock held")

// Metadata describes a stored artifact.
type Metadata struct {
	// Name is the artifact name without extension.
	Name string `json:"name"`

	// Kind identifies the payload type (classifier, rewards, background).
	Kind string `json:"kind"`

	// Source is how the artifact was produced: retrain, carry_over, import.
	Source string `json:"source,omitempty"`

	TrainedAt time.Time `json:"trained_at"`
	SavedAt   time.Time `json:"saved_at"`

	// Rows is the number of training rows.
	Rows int `json:"rows"`

	// HoldoutScore is accuracy for classifiers and MAE for regressors.
	HoldoutScore float64 `json:"holdout_score"`

	Checksum           string `json:"checksum"`
	SizeBytes          int64  `json:"size_bytes"`
	TrainingDurationMS int64  `json:"training_duration_ms"`
}

type storedFile struct {
	Metadata       Metadata
	CompressedData []byte
}

// Store reads and writes artifacts in one directory.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path for name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+Ext)
}

// Exists reports whether name is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Save encodes data and writes it atomically under name.
//
//nolint:gocritic // meta passed by value is acceptable for this write operation
func (s *Store) Save(ctx context.Context, name string, data interface{}, meta Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(data); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	sum := sha256.Sum256(raw.Bytes())

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw.Bytes()); err != nil {
		return fmt.Errorf("compress %s: %w", name, err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("finalize compression: %w", err)
	}

	meta.Name = name
	meta.Checksum = hex.EncodeToString(sum[:])
	meta.SizeBytes = int64(compressed.Len())
	meta.SavedAt = time.Now().UTC()

	var file bytes.Buffer
	if err := encodeStored(&file, &storedFile{Metadata: meta, CompressedData: compressed.Bytes()}); err != nil {
		return fmt.Errorf("encode %s file: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.Path(name), file.Bytes())
}

// Load decodes name into target, which must be a pointer.
func (s *Store) Load(ctx context.Context, name string, target interface{}) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	sf, err := s.readFile(name)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(sf.CompressedData))
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", name, err)
	}
	defer func() { _ = gzr.Close() }()

	raw, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("read decompressed %s: %w", name, err)
	}

	sum := sha256.Sum256(raw)
	if got := hex.EncodeToString(sum[:]); got != sf.Metadata.Checksum {
		return nil, fmt.Errorf("%s: checksum mismatch: expected %s, got %s", name, sf.Metadata.Checksum, got)
	}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(target); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return &sf.Metadata, nil
}

// Stat returns the metadata of name without decoding the model.
func (s *Store) Stat(name string) (*Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sf, err := s.readFile(name)
	if err != nil {
		return nil, err
	}
	return &sf.Metadata, nil
}

func (s *Store) readFile(name string) (*storedFile, error) {
	f, err := os.Open(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	var sf storedFile
	if err := gob.NewDecoder(f).Decode(&sf); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return &sf, nil
}

// Copy duplicates from to the artifact to, byte for byte. The copy keeps
// the original checksum; only the file name changes.
func (s *Store) Copy(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path(from))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, from)
		}
		return fmt.Errorf("read %s: %w", from, err)
	}
	return writeAtomic(s.Path(to), data)
}

// Promote renames prefix+name over name for every name. All candidates must
// exist before anything is renamed.
func (s *Store) Promote(ctx context.Context, prefix string, names ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range names {
		if _, err := os.Stat(s.Path(prefix + n)); err != nil {
			return fmt.Errorf("%w: %s", ErrNotFound, prefix+n)
		}
	}
	for _, n := range names {
		if err := os.Rename(s.Path(prefix+n), s.Path(n)); err != nil {
			return fmt.Errorf("promote %s: %w", n, err)
		}
	}
	return nil
}

// List returns metadata for every artifact in the directory, sorted by name.
func (s *Store) List(ctx context.Context) ([]Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read artifact directory: %w", err)
	}
	var out []Metadata
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		sf, err := s.readFile(strings.TrimSuffix(e.Name(), Ext))
		if err != nil {
			continue
		}
		out = append(out, sf.Metadata)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AcquireLock creates <dir>/<name>.lock exclusively. The returned func
// removes it. A lock left behind by a crashed process must be removed by hand.
func (s *Store) AcquireLock(name string) (func(), error) {
	path := filepath.Join(s.dir, name+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // path is built from config
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("create lock %s: %w", path, err)
	}
	_, _ = fmt.Fprintf(f, "pid=%d since=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	_ = f.Close()
	return func() { _ = os.Remove(path) }, nil
}

func encodeStored(w io.Writer, sf *storedFile) error {
	return gob.NewEncoder(w).Encode(sf)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}
