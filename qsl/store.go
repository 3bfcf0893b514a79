// Package qsl implements the query sample library: the full sample
// corpus plus the subset currently materialized in memory for the load
// generator to query against.
package qsl

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-bench/preprocess"
)

var (
	// ErrSampleNotLoaded reports a lookup for an index that is not
	// resident in the cache. Caller contract violation.
	ErrSampleNotLoaded = errors.New("sample not loaded")
	// ErrKeyNotLoaded reports an unload of an index that is not
	// resident in the cache.
	ErrKeyNotLoaded = errors.New("key not loaded")
	// ErrIndexOutOfRange reports an index outside the corpus bounds.
	ErrIndexOutOfRange = errors.New("sample index out of range")
)

// Config configures a Store.
type Config struct {
	// Name is a human readable name for the backing model/dataset.
	Name string
	// Pipeline materializes raw samples into tensors on cache miss.
	Pipeline preprocess.Pipeline
	// PerformanceSampleCount is the number of samples guaranteed to
	// fit in RAM. Defaults to the corpus size when zero.
	PerformanceSampleCount int
	// StrictUnload makes Unload fail on ids that are not resident.
	// The default treats them as recoverable and logs a warning.
	StrictUnload bool
	// Logger used for recoverable conditions. Defaults to slog.Default.
	Logger *slog.Logger
}

// Store owns the corpus and the index-addressable cache of loaded
// samples. The corpus is read-only after construction; the cache is
// written only by Load and Unload. Callers must drain in-flight
// queries before unloading the ids they depend on.
type Store struct {
	name         string
	corpus       []Sample
	pipeline     preprocess.Pipeline
	perfCount    int
	strictUnload bool
	logger       *slog.Logger

	mu         sync.RWMutex
	cache      map[int]*tensor.Dense
	lastLoaded time.Time
}

// NewStore creates a store over the given corpus.
func NewStore(corpus []Sample, cfg Config) (*Store, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.PerformanceSampleCount <= 0 || cfg.PerformanceSampleCount > len(corpus) {
		cfg.PerformanceSampleCount = len(corpus)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		name:         cfg.Name,
		corpus:       corpus,
		pipeline:     cfg.Pipeline,
		perfCount:    cfg.PerformanceSampleCount,
		strictUnload: cfg.StrictUnload,
		logger:       cfg.Logger,
		cache:        make(map[int]*tensor.Dense),
	}, nil
}

// Name returns the human readable name for the backing model.
func (s *Store) Name() string { return s.name }

// Count returns the total corpus size.
func (s *Store) Count() int { return len(s.corpus) }

// PerformanceSampleCount returns the number of samples guaranteed to
// fit in RAM at once.
func (s *Store) PerformanceSampleCount() int { return s.perfCount }

// LastLoaded returns the completion time of the most recent Load.
func (s *Store) LastLoaded() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastLoaded
}

// Load materializes the given sample ids into the cache. Ids already
// resident are left untouched, so loading the same set twice is a
// no-op. The load generator never loads a currently loaded sample.
func (s *Store) Load(ids []int) error {
	// Transform outside the lock; readers keep going until insert.
	materialized := make(map[int]*tensor.Dense, len(ids))
	for _, id := range ids {
		if id < 0 || id >= len(s.corpus) {
			return errors.Wrapf(ErrIndexOutOfRange, "load sample %d of %d", id, len(s.corpus))
		}
		if s.Loaded(id) {
			continue
		}
		t, err := s.pipeline.Transform(s.corpus[id].Raw)
		if err != nil {
			return errors.Wrapf(err, "materializing sample %d", id)
		}
		materialized[id] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range materialized {
		if _, ok := s.cache[id]; !ok {
			s.cache[id] = t
		}
	}
	s.lastLoaded = time.Now()
	return nil
}

// Unload removes the given sample ids from the cache. A nil or empty
// slice clears the entire cache. Ids that are not resident fail with
// ErrKeyNotLoaded under the strict policy and are logged otherwise.
func (s *Store) Unload(ids []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		s.cache = make(map[int]*tensor.Dense)
		return nil
	}

	for _, id := range ids {
		if _, ok := s.cache[id]; !ok {
			if s.strictUnload {
				return errors.Wrapf(ErrKeyNotLoaded, "unload sample %d", id)
			}
			s.logger.Warn("unload of sample that is not loaded", "index", id)
			continue
		}
		delete(s.cache, id)
	}
	return nil
}

// Loaded reports whether the given id is resident in the cache.
func (s *Store) Loaded(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[id]
	return ok
}

// GetSamples resolves ids to their cached tensors and labels. The
// result order matches the input order exactly; the caller correlates
// response position to request position. Any id absent from the cache
// fails the whole lookup with ErrSampleNotLoaded.
func (s *Store) GetSamples(ids []int) ([]*tensor.Dense, []int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tensors := make([]*tensor.Dense, 0, len(ids))
	labels := make([]int, 0, len(ids))
	for _, id := range ids {
		t, ok := s.cache[id]
		if !ok {
			return nil, nil, errors.Wrapf(ErrSampleNotLoaded, "get sample %d", id)
		}
		tensors = append(tensors, t)
		labels = append(labels, s.corpus[id].Label)
	}
	return tensors, labels, nil
}

// Sample returns the corpus entry at the given index.
func (s *Store) Sample(id int) (Sample, error) {
	if id < 0 || id >= len(s.corpus) {
		return Sample{}, errors.Wrapf(ErrIndexOutOfRange, "sample %d of %d", id, len(s.corpus))
	}
	return s.corpus[id], nil
}
