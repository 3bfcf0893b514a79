// Package config loads run configuration from a yaml file with
// sensible defaults.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for one benchmark run.
type Config struct {
	// Name labels the run in reports.
	Name string `yaml:"name"`
	// Dataset is the directory holding the encoded sample images.
	Dataset string `yaml:"dataset"`
	// LabelMap is the val_map-style file pairing filenames to labels.
	LabelMap string `yaml:"label_map"`
	// Model is the .onnx model path. Empty selects the echo engine,
	// which returns each sample's own label (smoke runs without a
	// native onnxruntime).
	Model string `yaml:"model"`
	// ModelInput and ModelOutput are the graph node names.
	ModelInput  string `yaml:"model_input"`
	ModelOutput string `yaml:"model_output"`
	// Profile selects the preprocessing profile: vgg or mobilenet.
	Profile string `yaml:"profile"`
	// InputSize is the model's square input dimension.
	InputSize int `yaml:"input_size"`
	// Classes is the model's output vector size.
	Classes int `yaml:"classes"`
	// Scoring selects the accuracy strategy: argmax or direct.
	Scoring string `yaml:"scoring"`
	// Offset is the label-index correction applied to every
	// comparison.
	Offset int `yaml:"offset"`
	// QueryCount and BatchSize shape the issued load.
	QueryCount int `yaml:"query_count"`
	BatchSize  int `yaml:"batch_size"`
	// PerformanceSampleCount bounds the loaded set. Zero means the
	// whole corpus.
	PerformanceSampleCount int `yaml:"performance_sample_count"`
	// StrictUnload makes unloading a non-resident sample fatal.
	StrictUnload bool `yaml:"strict_unload"`
	// OutputDir receives the JSON/CSV reports.
	OutputDir string `yaml:"output_dir"`
}

// DefaultConfig returns the defaults applied underneath any loaded
// file.
func DefaultConfig() *Config {
	return &Config{
		Name:       "qslbench",
		Profile:    "vgg",
		InputSize:  224,
		Classes:    1001,
		Scoring:    "argmax",
		Offset:     0,
		QueryCount: 1024,
		BatchSize:  8,
		OutputDir:  "./results",
	}
}

// Load reads configuration from the given yaml file over the
// defaults. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.QueryCount <= 0 {
		return errors.New("query_count must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.New("batch_size must be positive")
	}
	switch c.Scoring {
	case "argmax", "direct":
	default:
		return errors.Errorf("unknown scoring %q", c.Scoring)
	}
	switch c.Profile {
	case "vgg", "mobilenet":
	default:
		return errors.Errorf("unknown profile %q", c.Profile)
	}
	return nil
}
