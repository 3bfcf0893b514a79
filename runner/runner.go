// Package runner drives a measurable run against the query session:
// it loads the performance sample set, issues the configured query
// load, collects completions and produces the end-of-run report.
package runner

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-bench/accuracy"
	"github.com/nvr-ai/go-bench/qsl"
	"github.com/nvr-ai/go-bench/report"
	"github.com/nvr-ai/go-bench/sut"
)

// Options shape the issued load.
type Options struct {
	// Name labels the run in the report.
	Name string
	// QueryCount is the total number of queries to issue.
	QueryCount int
	// BatchSize is the number of queries per issued batch.
	BatchSize int
}

// Runner binds the store, engine and scorer into one run.
type Runner struct {
	store  *qsl.Store
	engine sut.Engine
	scorer accuracy.Scorer
	logger *slog.Logger
}

// New creates a runner. A nil logger falls back to slog.Default.
func New(store *qsl.Store, engine sut.Engine, scorer accuracy.Scorer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: store, engine: engine, scorer: scorer, logger: logger}
}

// collector gathers completion callbacks from concurrently finishing
// batches.
type collector struct {
	mu        sync.Mutex
	latencies []time.Duration
	failures  int
}

func (c *collector) complete(r sut.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies = append(c.latencies, r.Latency)
	if r.Code != sut.ResultOK {
		c.failures++
	}
}

// Run loads the performance sample set, issues opts.QueryCount queries
// in batches round-robin over the loaded ids, drains the session and
// summarizes the results.
func (r *Runner) Run(ctx context.Context, opts Options) (*report.Report, error) {
	if opts.QueryCount <= 0 || opts.BatchSize <= 0 {
		return nil, errors.New("query count and batch size must be positive")
	}

	loaded := make([]int, r.store.PerformanceSampleCount())
	for i := range loaded {
		loaded[i] = i
	}
	if err := r.store.Load(loaded); err != nil {
		return nil, errors.Wrap(err, "loading performance sample set")
	}
	defer func() {
		if err := r.store.Unload(nil); err != nil {
			r.logger.Warn("unloading sample set", "error", err)
		}
	}()

	col := &collector{}
	session, err := sut.NewSession(r.store, r.engine, r.scorer, col.complete)
	if err != nil {
		return nil, err
	}

	var startMem runtime.MemStats
	runtime.ReadMemStats(&startMem)

	r.scorer.Start()
	r.logger.Info("starting run",
		"queries", opts.QueryCount,
		"batch_size", opts.BatchSize,
		"loaded_samples", len(loaded))

	var nextID uint64
	issued := 0
	for issued < opts.QueryCount {
		n := opts.BatchSize
		if remaining := opts.QueryCount - issued; remaining < n {
			n = remaining
		}

		batch := make([]sut.Query, n)
		for i := 0; i < n; i++ {
			nextID++
			batch[i] = sut.Query{
				ResponseID: nextID,
				Index:      loaded[(issued+i)%len(loaded)],
			}
		}
		session.Issue(batch)
		issued += n
	}

	if err := session.Drain(ctx); err != nil {
		return nil, errors.Wrap(err, "draining session")
	}
	if err := session.Close(); err != nil {
		return nil, err
	}

	var endMem runtime.MemStats
	runtime.ReadMemStats(&endMem)

	summary, err := report.Summarize(col.latencies)
	if err != nil {
		return nil, errors.Wrap(err, "summarizing latencies")
	}

	result := r.scorer.Finalize()
	if col.failures > 0 {
		r.logger.Warn("queries failed", "count", col.failures)
	}

	return &report.Report{
		Name:       opts.Name,
		Timestamp:  time.Now(),
		QueryCount: issued,
		Accuracy:   result,
		Latency:    summary,
		Memory: report.MemoryStats{
			AllocBytes:      endMem.Alloc,
			TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
			NumGC:           endMem.NumGC - startMem.NumGC,
		},
	}, nil
}
