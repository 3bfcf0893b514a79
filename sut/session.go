// Package sut implements the system-under-test side of the query
// protocol: it accepts batches of sample ids from the load generator,
// dispatches them for asynchronous inference and reports every query's
// outcome back through a completion callback exactly once.
package sut

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-bench/accuracy"
	"github.com/nvr-ai/go-bench/qsl"
)

// ErrPrematureShutdown reports a session torn down with queries still
// in flight. Fatal to the run.
var ErrPrematureShutdown = errors.New("session closed with queries in flight")

// Engine is the opaque compute step. Implementations may block for an
// unspecified time; the session only ever calls Infer off the issuing
// goroutine.
type Engine interface {
	Infer(ctx context.Context, batch []*tensor.Dense) ([][]float32, error)
}

// Query correlates one sample index with the caller's opaque response
// token.
type Query struct {
	// ResponseID is the caller-supplied token echoed back on
	// completion.
	ResponseID uint64
	// Index addresses the sample in the store's cache.
	Index int
}

// ResultCode communicates the outcome of a single query's compute
// step.
type ResultCode int

const (
	// ResultOK marks a query that completed inference.
	ResultOK ResultCode = iota
	// ResultSampleNotLoaded marks a query whose sample was not
	// resident in the cache at dispatch time.
	ResultSampleNotLoaded
	// ResultInferenceFailed marks a query whose batch failed in the
	// compute step.
	ResultInferenceFailed
)

// Response is delivered to the completion callback, exactly once per
// issued query.
type Response struct {
	ID      uint64
	Code    ResultCode
	Latency time.Duration
}

// CompletionFunc receives a query's response. It may be invoked from
// many completion goroutines concurrently and must be safe for that.
type CompletionFunc func(Response)

// Session binds a sample store, a compute engine and an accuracy
// scorer to the generator's query/response cycle.
//
// Issue never blocks on compute; each batch runs on its own goroutine
// and transitions atomically from dispatched to completed. Cancellation
// of in-flight batches is intentionally unsupported: a session is
// drained by waiting for the in-flight count to reach zero.
type Session struct {
	store    *qsl.Store
	engine   Engine
	scorer   accuracy.Scorer
	complete CompletionFunc

	ctx      context.Context
	inflight atomic.Int64
	wg       sync.WaitGroup

	errOnce sync.Once
	err     atomic.Value // error
}

// NewSession creates a session. The completion callback is required;
// results have nowhere else to go.
func NewSession(store *qsl.Store, engine Engine, scorer accuracy.Scorer, complete CompletionFunc) (*Session, error) {
	if store == nil || engine == nil || scorer == nil {
		return nil, errors.New("store, engine and scorer are required")
	}
	if complete == nil {
		return nil, errors.New("completion callback is required")
	}
	return &Session{
		store:    store,
		engine:   engine,
		scorer:   scorer,
		complete: complete,
		ctx:      context.Background(),
	}, nil
}

// InFlight returns the number of batches dispatched but not yet
// completed.
func (s *Session) InFlight() int64 { return s.inflight.Load() }

// Issue schedules a batch of queries for asynchronous processing and
// returns immediately. The arrival timestamp captured here is the
// origin for every query's reported latency.
//
// Queries referencing samples that are not resident complete
// individually with ResultSampleNotLoaded; they do not abort the rest
// of the batch and contribute nothing to the accuracy tally.
func (s *Session) Issue(queries []Query) {
	if len(queries) == 0 {
		return
	}

	arrival := time.Now()
	batch := make([]Query, len(queries))
	copy(batch, queries)

	s.inflight.Add(1)
	s.wg.Add(1)
	go s.process(batch, arrival)
}

// process is the asynchronous unit of work for one batch. Responses
// within the batch are reported in the batch's input order.
func (s *Session) process(batch []Query, arrival time.Time) {
	defer s.wg.Done()
	defer s.inflight.Add(-1)

	// Partition out queries whose samples are not resident. Their
	// failure is scoped to the individual query.
	resident := make([]Query, 0, len(batch))
	codes := make(map[uint64]ResultCode, len(batch))
	for _, q := range batch {
		if !s.store.Loaded(q.Index) {
			codes[q.ResponseID] = ResultSampleNotLoaded
			continue
		}
		resident = append(resident, q)
	}

	if len(resident) > 0 {
		ids := make([]int, len(resident))
		for i, q := range resident {
			ids[i] = q.Index
		}

		tensors, labels, err := s.store.GetSamples(ids)
		if err != nil {
			// A sample was unloaded between the residency check and
			// the lookup; the caller contract forbids that, but the
			// failure still stays scoped to this batch.
			for _, q := range resident {
				codes[q.ResponseID] = ResultSampleNotLoaded
			}
		} else {
			outputs, err := s.engine.Infer(s.ctx, tensors)
			if err != nil {
				for _, q := range resident {
					codes[q.ResponseID] = ResultInferenceFailed
				}
			} else {
				if err := s.scorer.Record(outputs, labels); err != nil {
					s.fail(err)
				}
				for _, q := range resident {
					codes[q.ResponseID] = ResultOK
				}
			}
		}
	}

	elapsed := time.Since(arrival)
	for _, q := range batch {
		s.complete(Response{ID: q.ResponseID, Code: codes[q.ResponseID], Latency: elapsed})
	}
}

// fail records the first structural error; Drain surfaces it.
func (s *Session) fail(err error) {
	s.errOnce.Do(func() { s.err.Store(err) })
}

// Drain blocks until every dispatched batch has completed or the
// context is cancelled, then reports any structural error a completion
// goroutine hit (for example a batch size mismatch in the scorer).
func (s *Session) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "draining session")
	}

	if err, ok := s.err.Load().(error); ok {
		return err
	}
	return nil
}

// Close verifies the session is quiescent. Closing with queries still
// in flight is a premature shutdown, surfaced to the caller rather
// than swallowed.
func (s *Session) Close() error {
	if n := s.inflight.Load(); n != 0 {
		return errors.Wrapf(ErrPrematureShutdown, "%d batches in flight", n)
	}
	return nil
}
