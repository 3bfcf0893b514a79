// Package report summarizes a finished run: latency statistics over
// the recorded per-query latencies plus the accuracy tally, persisted
// as JSON and CSV.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-bench/accuracy"
)

// ErrNoData reports summarization over an empty latency sequence. A
// percentile over zero samples is undefined and must not silently
// yield zero.
var ErrNoData = errors.New("no latency data")

// LatencySummary holds the summary statistics over one run's
// latencies.
type LatencySummary struct {
	Mean time.Duration `json:"mean_ns"`
	P50  time.Duration `json:"p50_ns"`
	P90  time.Duration `json:"p90_ns"`
}

// Summarize computes mean, p50 and p90 over the recorded latencies.
// Percentiles use the nearest-rank rule on the sorted sequence with
// index floor(n*q), so [10,20,30,40,50] yields mean=30, p50=30 and
// p90=50.
func Summarize(latencies []time.Duration) (LatencySummary, error) {
	if len(latencies) == 0 {
		return LatencySummary{}, ErrNoData
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}

	return LatencySummary{
		Mean: sum / time.Duration(len(sorted)),
		P50:  percentile(sorted, 0.50),
		P90:  percentile(sorted, 0.90),
	}, nil
}

// percentile returns the nearest-rank value over an already sorted
// sequence.
func percentile(sorted []time.Duration, q float64) time.Duration {
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// MemoryStats captures the runtime allocation delta over a run.
type MemoryStats struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	NumGC           uint32 `json:"num_gc"`
}

// Report is the structured end-of-run summary handed to surrounding
// tooling.
type Report struct {
	Name       string          `json:"name"`
	Timestamp  time.Time       `json:"timestamp"`
	QueryCount int             `json:"query_count"`
	Accuracy   accuracy.Result `json:"accuracy"`
	Latency    LatencySummary  `json:"latency"`
	Memory     MemoryStats     `json:"memory"`
}

// AccuracyRate returns good/total, or zero when nothing was scored.
func (r *Report) AccuracyRate() float64 {
	if r.Accuracy.Total == 0 {
		return 0
	}
	return float64(r.Accuracy.Good) / float64(r.Accuracy.Total)
}

// Save persists the report as a timestamped JSON file plus a one-line
// summary CSV in the given directory.
func (r *Report) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}

	stamp := r.Timestamp.Format("2006-01-02_15-04-05")

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling report")
	}
	jsonPath := filepath.Join(dir, fmt.Sprintf("run_%s.json", stamp))
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return errors.Wrap(err, "writing report")
	}

	csvPath := filepath.Join(dir, fmt.Sprintf("run_%s.csv", stamp))
	return r.saveSummaryCSV(csvPath)
}

func (r *Report) saveSummaryCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating summary CSV")
	}
	defer f.Close()

	header := "Name,Queries,Good,Total,Accuracy,Mean_ms,P50_ms,P90_ms\n"
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	line := fmt.Sprintf("%s,%d,%d,%d,%.4f,%.3f,%.3f,%.3f\n",
		r.Name,
		r.QueryCount,
		r.Accuracy.Good,
		r.Accuracy.Total,
		r.AccuracyRate(),
		float64(r.Latency.Mean.Nanoseconds())/1e6,
		float64(r.Latency.P50.Nanoseconds())/1e6,
		float64(r.Latency.P90.Nanoseconds())/1e6,
	)
	_, err = f.WriteString(line)
	return err
}
