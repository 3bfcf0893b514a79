package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-bench/accuracy"
)

func TestSummarizeFixture(t *testing.T) {
	latencies := []time.Duration{10, 20, 30, 40, 50}
	summary, err := Summarize(latencies)
	require.NoError(t, err)

	// Nearest-rank with index floor(n*q).
	assert.Equal(t, time.Duration(30), summary.Mean)
	assert.Equal(t, time.Duration(30), summary.P50)
	assert.Equal(t, time.Duration(50), summary.P90)
}

func TestSummarizeUnsorted(t *testing.T) {
	latencies := []time.Duration{50, 10, 40, 20, 30}
	summary, err := Summarize(latencies)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(30), summary.P50)

	// Input must be left untouched.
	assert.Equal(t, []time.Duration{50, 10, 40, 20, 30}, latencies)
}

func TestSummarizeSingleValue(t *testing.T) {
	summary, err := Summarize([]time.Duration{7})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(7), summary.Mean)
	assert.Equal(t, time.Duration(7), summary.P50)
	assert.Equal(t, time.Duration(7), summary.P90)
}

func TestSummarizeEmptyFailsWithNoData(t *testing.T) {
	_, err := Summarize(nil)
	require.ErrorIs(t, err, ErrNoData)
}

func TestAccuracyRate(t *testing.T) {
	r := &Report{Accuracy: accuracy.Result{Good: 3, Total: 4}}
	assert.InDelta(t, 0.75, r.AccuracyRate(), 1e-9)

	empty := &Report{}
	assert.Zero(t, empty.AccuracyRate())
}

func TestSaveWritesJSONAndCSV(t *testing.T) {
	dir := t.TempDir()
	r := &Report{
		Name:       "resnet50",
		Timestamp:  time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		QueryCount: 4,
		Accuracy:   accuracy.Result{Good: 4, Total: 4},
		Latency:    LatencySummary{Mean: 30, P50: 30, P90: 50},
	}
	require.NoError(t, r.Save(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var jsonPath, csvPath string
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".json":
			jsonPath = filepath.Join(dir, e.Name())
		case ".csv":
			csvPath = filepath.Join(dir, e.Name())
		}
	}
	require.NotEmpty(t, jsonPath)
	require.NotEmpty(t, csvPath)

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.Accuracy, decoded.Accuracy)
	assert.Equal(t, r.Latency, decoded.Latency)

	csv, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "resnet50,4,4,4,1.0000")
}
