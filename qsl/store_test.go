package qsl

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// stubPipeline materializes a sample as a single-element tensor
// holding its first raw byte, avoiding real image decoding.
type stubPipeline struct {
	calls int
}

func (p *stubPipeline) Transform(raw []byte) (*tensor.Dense, error) {
	p.calls++
	return tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{float32(raw[0])})), nil
}

func testCorpus(n int) []Sample {
	corpus := make([]Sample, n)
	for i := range corpus {
		corpus[i] = NewSample(i, i, []byte{byte(i)})
	}
	return corpus
}

func newTestStore(t *testing.T, n int, cfg Config) *Store {
	t.Helper()
	if cfg.Pipeline == nil {
		cfg.Pipeline = &stubPipeline{}
	}
	store, err := NewStore(testCorpus(n), cfg)
	require.NoError(t, err)
	return store
}

func TestNewStoreRequiresPipeline(t *testing.T) {
	_, err := NewStore(testCorpus(2), Config{})
	require.Error(t, err)
}

func TestLoadThenGetSamples(t *testing.T) {
	store := newTestStore(t, 8, Config{Name: "test"})

	ids := []int{0, 2, 5}
	require.NoError(t, store.Load(ids))

	for _, id := range ids {
		assert.True(t, store.Loaded(id))
	}
	assert.False(t, store.Loaded(1))

	tensors, labels, err := store.GetSamples(ids)
	require.NoError(t, err)
	require.Len(t, tensors, 3)
	assert.Equal(t, []int{0, 2, 5}, labels)
}

func TestGetSamplesPreservesRequestOrder(t *testing.T) {
	store := newTestStore(t, 6, Config{})
	require.NoError(t, store.Load([]int{0, 1, 2, 3, 4, 5}))

	permutations := [][]int{
		{5, 4, 3, 2, 1, 0},
		{2, 0, 4, 1, 5, 3},
		{3, 3, 1, 1, 0, 0},
	}
	for _, perm := range permutations {
		tensors, labels, err := store.GetSamples(perm)
		require.NoError(t, err)
		assert.Equal(t, perm, labels, "labels must follow request order")
		for i, id := range perm {
			data := tensors[i].Data().([]float32)
			assert.Equal(t, float32(id), data[0])
		}
	}
}

func TestGetSamplesFailsOnAbsentIndex(t *testing.T) {
	store := newTestStore(t, 4, Config{})
	require.NoError(t, store.Load([]int{0, 1}))

	_, _, err := store.GetSamples([]int{0, 3})
	require.ErrorIs(t, err, ErrSampleNotLoaded)
}

func TestLoadIsIdempotent(t *testing.T) {
	pipeline := &stubPipeline{}
	store := newTestStore(t, 4, Config{Pipeline: pipeline})

	require.NoError(t, store.Load([]int{0, 1, 2}))
	require.NoError(t, store.Load([]int{0, 1, 2}))

	assert.Equal(t, 3, pipeline.calls, "already-cached ids must not be re-materialized")

	_, labels, err := store.GetSamples([]int{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, labels)
}

func TestLoadRejectsOutOfRangeIndex(t *testing.T) {
	store := newTestStore(t, 4, Config{})
	require.ErrorIs(t, store.Load([]int{0, 4}), ErrIndexOutOfRange)
	require.ErrorIs(t, store.Load([]int{-1}), ErrIndexOutOfRange)
}

func TestUnloadRemovesSamples(t *testing.T) {
	store := newTestStore(t, 4, Config{})
	ids := []int{0, 1, 2, 3}
	require.NoError(t, store.Load(ids))
	require.NoError(t, store.Unload(ids))

	for _, id := range ids {
		_, _, err := store.GetSamples([]int{id})
		assert.ErrorIs(t, err, ErrSampleNotLoaded)
	}
}

func TestUnloadNilClearsCache(t *testing.T) {
	store := newTestStore(t, 4, Config{})
	require.NoError(t, store.Load([]int{0, 1, 2, 3}))
	require.NoError(t, store.Unload(nil))

	for id := 0; id < 4; id++ {
		assert.False(t, store.Loaded(id))
	}
}

func TestUnloadMissingKeyStrict(t *testing.T) {
	store := newTestStore(t, 4, Config{StrictUnload: true})
	require.NoError(t, store.Load([]int{0}))
	require.ErrorIs(t, store.Unload([]int{1}), ErrKeyNotLoaded)
}

func TestUnloadMissingKeyLenient(t *testing.T) {
	store := newTestStore(t, 4, Config{Logger: slog.Default()})
	require.NoError(t, store.Load([]int{0, 1}))

	// Default policy logs and keeps going, removing what it can.
	require.NoError(t, store.Unload([]int{0, 3}))
	assert.False(t, store.Loaded(0))
	assert.True(t, store.Loaded(1))
}

func TestCountAndPerformanceSampleCount(t *testing.T) {
	store := newTestStore(t, 10, Config{PerformanceSampleCount: 4})
	assert.Equal(t, 10, store.Count())
	assert.Equal(t, 4, store.PerformanceSampleCount())

	// Zero or oversized bounds fall back to the corpus size.
	store = newTestStore(t, 10, Config{PerformanceSampleCount: 100})
	assert.Equal(t, 10, store.PerformanceSampleCount())
}

func TestLastLoadedAdvances(t *testing.T) {
	store := newTestStore(t, 2, Config{})
	assert.True(t, store.LastLoaded().IsZero())

	require.NoError(t, store.Load([]int{0}))
	assert.False(t, store.LastLoaded().IsZero())
}
