package sut

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-bench/qsl"
)

// EchoEngine is a stand-in compute step that answers every sample with
// a one-hot logits vector at the sample's own true label. It exercises
// the full dispatch/completion path without a native runtime, so a
// correctly wired harness scores 100% accuracy against it.
type EchoEngine struct {
	labels  map[*tensor.Dense]int
	classes int
	delay   time.Duration
}

// NewEchoEngine loads the given ids (idempotent if they are already
// resident) and records which cached tensor belongs to which label.
// The optional delay is applied once per Infer call to simulate
// compute latency.
func NewEchoEngine(store *qsl.Store, ids []int, classes int, delay time.Duration) (*EchoEngine, error) {
	if classes <= 0 {
		return nil, errors.New("classes must be positive")
	}
	if err := store.Load(ids); err != nil {
		return nil, errors.Wrap(err, "loading samples for echo engine")
	}

	labels := make(map[*tensor.Dense]int, len(ids))
	for _, id := range ids {
		tensors, lbls, err := store.GetSamples([]int{id})
		if err != nil {
			return nil, err
		}
		labels[tensors[0]] = lbls[0]
	}

	return &EchoEngine{labels: labels, classes: classes, delay: delay}, nil
}

// Infer returns a one-hot vector per sample, peaked at its true label.
func (e *EchoEngine) Infer(ctx context.Context, batch []*tensor.Dense) ([][]float32, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	outputs := make([][]float32, len(batch))
	for i, t := range batch {
		label, ok := e.labels[t]
		if !ok {
			return nil, errors.Errorf("sample %d not known to echo engine", i)
		}
		if label < 0 || label >= e.classes {
			return nil, errors.Errorf("label %d outside %d classes", label, e.classes)
		}
		row := make([]float32, e.classes)
		row[label] = 1
		outputs[i] = row
	}
	return outputs, nil
}
