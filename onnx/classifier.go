// Package onnx runs classification models through ONNX Runtime. It is
// the concrete compute step behind the query session; the session
// itself treats it as opaque.
package onnx

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// Config describes an ONNX classification model.
type Config struct {
	// ModelPath points at the .onnx file.
	ModelPath string
	// LibraryPath overrides the onnxruntime shared library location.
	// Empty leaves the runtime's default search in place.
	LibraryPath string
	// InputName and OutputName are the model's graph node names.
	InputName  string
	OutputName string
	// Height and Width are the model input dimensions.
	Height int
	Width  int
	// Classes is the size of the output logits vector.
	Classes int
}

var ortInit sync.Once

// Classifier owns one ONNX Runtime session with preallocated
// fixed-shape input and output tensors. Run is serialized internally;
// the tensors are reused across calls.
type Classifier struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	cfg     Config
}

// NewClassifier loads the model and prepares the inference session.
func NewClassifier(cfg Config) (*Classifier, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model %s", cfg.ModelPath)
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}

	// The environment is process-wide; initialize it once and leave it
	// up for the life of the process.
	var initErr error
	ortInit.Do(func() {
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, errors.Wrap(initErr, "initializing ONNX Runtime environment")
	}

	input, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, 3, int64(cfg.Height), int64(cfg.Width)))
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}

	output, err := ort.NewEmptyTensor[float32](
		ort.NewShape(1, int64(cfg.Classes)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "creating session options")
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "creating ORT session")
	}

	return &Classifier{
		session: session,
		input:   input,
		output:  output,
		cfg:     cfg,
	}, nil
}

// Infer runs the model over each sample tensor in turn and returns one
// logits vector per sample, in input order. The preallocated session
// tensors force a batch-of-one model shape, so the batch is unrolled
// here.
func (c *Classifier) Infer(ctx context.Context, batch []*tensor.Dense) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	outputs := make([][]float32, 0, len(batch))
	for i, t := range batch {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		data, ok := t.Data().([]float32)
		if !ok {
			return nil, errors.Errorf("sample %d: backing data is not []float32", i)
		}

		dst := c.input.GetData()
		if len(data) != len(dst) {
			return nil, errors.Errorf("sample %d: tensor holds %d floats, model expects %d",
				i, len(data), len(dst))
		}
		copy(dst, data)

		if err := c.session.Run(); err != nil {
			return nil, errors.Wrapf(err, "running inference for sample %d", i)
		}

		logits := make([]float32, c.cfg.Classes)
		copy(logits, c.output.GetData())
		outputs = append(outputs, logits)
	}

	return outputs, nil
}

// Close releases the session and its tensors.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.input != nil {
		c.input.Destroy()
		c.input = nil
	}
	if c.output != nil {
		c.output.Destroy()
		c.output = nil
	}
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			return errors.Wrap(err, "destroying ORT session")
		}
		c.session = nil
	}
	return nil
}
