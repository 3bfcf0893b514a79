// Command qslbench runs an inference benchmark: it loads a labeled
// image corpus into the query sample library, issues queries through
// the asynchronous session and writes the accuracy/latency report.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvr-ai/go-bench/accuracy"
	"github.com/nvr-ai/go-bench/config"
	"github.com/nvr-ai/go-bench/onnx"
	"github.com/nvr-ai/go-bench/preprocess"
	"github.com/nvr-ai/go-bench/qsl"
	"github.com/nvr-ai/go-bench/report"
	"github.com/nvr-ai/go-bench/runner"
	"github.com/nvr-ai/go-bench/sut"
)

var (
	configPath string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "qslbench",
	Short: "Inference serving benchmark harness",
	Long: "qslbench measures inference-serving performance and accuracy: " +
		"it keeps a query sample library in memory, dispatches query batches " +
		"asynchronously and aggregates per-query correctness and latency.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a benchmark run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to yaml config file")
	runCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall run timeout")
	rootCmd.AddCommand(runCmd)
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	corpus, err := qsl.LoadImageDataset(cfg.Dataset, cfg.LabelMap)
	if err != nil {
		return err
	}

	var profile preprocess.Config
	switch cfg.Profile {
	case "mobilenet":
		profile = preprocess.MobileNetConfig(cfg.InputSize, cfg.InputSize)
	default:
		profile = preprocess.VGGConfig(cfg.InputSize, cfg.InputSize)
	}
	profile.Layout = preprocess.LayoutCHW

	store, err := qsl.NewStore(corpus, qsl.Config{
		Name:                   cfg.Name,
		Pipeline:               preprocess.NewImagePipeline(profile),
		PerformanceSampleCount: cfg.PerformanceSampleCount,
		StrictUnload:           cfg.StrictUnload,
		Logger:                 logger,
	})
	if err != nil {
		return err
	}

	scorer, err := accuracy.New(accuracy.Kind(cfg.Scoring), cfg.Offset)
	if err != nil {
		return err
	}

	engine, cleanup, err := buildEngine(cfg, store, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := runner.New(store, engine, scorer, logger)
	rep, err := r.Run(ctx, runner.Options{
		Name:       cfg.Name,
		QueryCount: cfg.QueryCount,
		BatchSize:  cfg.BatchSize,
	})
	if err != nil {
		return err
	}

	if err := rep.Save(cfg.OutputDir); err != nil {
		return err
	}

	fmt.Printf("accuracy: %d/%d (%.2f%%)\n", rep.Accuracy.Good, rep.Accuracy.Total, rep.AccuracyRate()*100)
	printLatency(rep.Latency)
	return nil
}

func buildEngine(cfg *config.Config, store *qsl.Store, logger *slog.Logger) (sut.Engine, func(), error) {
	if cfg.Model == "" {
		logger.Info("no model configured, using echo engine")
		ids := make([]int, store.PerformanceSampleCount())
		for i := range ids {
			ids[i] = i
		}
		engine, err := sut.NewEchoEngine(store, ids, cfg.Classes, time.Millisecond)
		if err != nil {
			return nil, nil, err
		}
		return engine, func() {}, nil
	}

	classifier, err := onnx.NewClassifier(onnx.Config{
		ModelPath:  cfg.Model,
		InputName:  cfg.ModelInput,
		OutputName: cfg.ModelOutput,
		Height:     cfg.InputSize,
		Width:      cfg.InputSize,
		Classes:    cfg.Classes,
	})
	if err != nil {
		return nil, nil, err
	}
	return classifier, func() {
		if err := classifier.Close(); err != nil {
			logger.Warn("closing classifier", "error", err)
		}
	}, nil
}

func printLatency(s report.LatencySummary) {
	fmt.Printf("latency mean: %v\n", s.Mean)
	fmt.Printf("latency p50:  %v\n", s.P50)
	fmt.Printf("latency p90:  %v\n", s.P90)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
