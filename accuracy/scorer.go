// Package accuracy accumulates streaming correctness counts over
// decoded model outputs. Scorers are safe to feed from many
// concurrently completing query batches.
package accuracy

import (
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// ErrBatchSizeMismatch reports output and label batches of differing
// length. This indicates upstream protocol corruption and is fatal.
var ErrBatchSizeMismatch = errors.New("output and label batch sizes differ")

// Result is a snapshot of the accumulated counts.
type Result struct {
	// Good is the number of correct classifications.
	Good int `json:"good"`
	// Total is the number of classifications seen.
	Total int `json:"total"`
}

// Scorer consumes model outputs with their expected labels and keeps a
// monotonically growing tally within a measurement window.
type Scorer interface {
	// Start resets the counters for a new measurement window.
	Start()
	// Record compares outputs to expected labels element-wise.
	Record(outputs [][]float32, expected []int) error
	// Finalize returns the accumulated snapshot without mutating
	// state. Safe to call mid-run for progress reporting.
	Finalize() Result
}

// Kind selects the comparison strategy, fixed at construction.
type Kind string

const (
	// KindArgmax compares argmax(output)+offset to the label.
	KindArgmax Kind = "argmax"
	// KindDirect compares output[0]+offset to the label.
	KindDirect Kind = "direct"
)

// New returns a scorer of the given kind. The offset is a constant
// correction applied uniformly to every comparison, accommodating
// label-indexing conventions that differ between model and dataset.
func New(kind Kind, offset int) (Scorer, error) {
	switch kind {
	case KindArgmax:
		return &ArgmaxScorer{offset: offset}, nil
	case KindDirect:
		return &DirectScorer{offset: offset}, nil
	default:
		return nil, errors.Errorf("unknown scorer kind %q", kind)
	}
}

// counter holds the shared tally. Updates happen under the mutex so
// concurrent Record calls cannot lose increments.
type counter struct {
	mu    sync.Mutex
	good  int
	total int
}

func (c *counter) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.good = 0
	c.total = 0
}

func (c *counter) add(good, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.good += good
	c.total += total
}

func (c *counter) snapshot() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Result{Good: c.good, Total: c.total}
}

// ArgmaxScorer scores classification outputs by taking the index of
// the maximum value in each output vector.
type ArgmaxScorer struct {
	counter
	offset int
}

// Start resets the counters for a new measurement window.
func (s *ArgmaxScorer) Start() { s.reset() }

// Record compares argmax(outputs[i])+offset against expected[i].
func (s *ArgmaxScorer) Record(outputs [][]float32, expected []int) error {
	if len(outputs) != len(expected) {
		return errors.Wrapf(ErrBatchSizeMismatch, "%d outputs vs %d labels", len(outputs), len(expected))
	}

	good := 0
	for i, out := range outputs {
		if argmax(out)+s.offset == expected[i] {
			good++
		}
	}
	s.add(good, len(outputs))
	return nil
}

// Finalize returns the accumulated snapshot.
func (s *ArgmaxScorer) Finalize() Result { return s.snapshot() }

// DirectScorer scores outputs whose primary field already is the
// predicted label.
type DirectScorer struct {
	counter
	offset int
}

// Start resets the counters for a new measurement window.
func (s *DirectScorer) Start() { s.reset() }

// Record compares outputs[i][0]+offset against expected[i].
func (s *DirectScorer) Record(outputs [][]float32, expected []int) error {
	if len(outputs) != len(expected) {
		return errors.Wrapf(ErrBatchSizeMismatch, "%d outputs vs %d labels", len(outputs), len(expected))
	}

	good := 0
	for i, out := range outputs {
		if len(out) == 0 {
			continue
		}
		if int(out[0])+s.offset == expected[i] {
			good++
		}
	}
	s.add(good, len(outputs))
	return nil
}

// Finalize returns the accumulated snapshot.
func (s *DirectScorer) Finalize() Result { return s.snapshot() }

func argmax(values []float32) int {
	best := -1
	max := math32.Inf(-1)
	for i, v := range values {
		if v > max {
			max = v
			best = i
		}
	}
	return best
}
