// Command train は学習を1回実行し、トラッキングストアまたはファイルにモデルを保存します。
//
//	train --n_estimators 100 --max_depth 5 --test_size 0.2 --random_seed 42 \
//	      --data_path student_habits_performance.csv
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/YuminosukeSato/examscore/internal/cli"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/training"
)

func main() {
	var (
		common     cli.Common
		p          = training.DefaultParams()
		sink       string
		out        string
		experiment string
	)
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	common.Register(fs)
	fs.IntVar(&p.NEstimators, "n_estimators", p.NEstimators, "number of trees")
	fs.IntVar(&p.MaxDepth, "max_depth", p.MaxDepth, "maximum tree depth (0 = unlimited)")
	fs.Float64Var(&p.TestSize, "test_size", p.TestSize, "fraction of rows held out for evaluation")
	fs.Int64Var(&p.RandomSeed, "random_seed", p.RandomSeed, "seed for the split and the forest")
	fs.StringVar(&p.DataPath, "data_path", p.DataPath, "dataset CSV")
	fs.StringVar(&p.SchemaPath, "schema", "", "feature schema YAML (default: <data>.schema.yaml or inferred)")
	fs.BoolVar(&p.ScaleNumeric, "scale_numeric", false, "standardise numerical columns")
	fs.StringVar(&p.RunName, "run_name", "", "tracking run name")
	fs.StringVar(&sink, "sink", "tracking", "where to persist the model: tracking|file")
	fs.StringVar(&out, "out", ".", "output directory for --sink file")
	fs.StringVar(&experiment, "experiment", "", "experiment name (overrides config)")
	fs.Parse(os.Args[1:])

	cfg, logger, err := cli.Setup("train", common)
	if err != nil {
		cli.Exit(nil, err)
	}
	if experiment != "" {
		cfg.Experiment = experiment
	}
	ctx, cancel := cli.SignalContext()
	defer cancel()

	var s training.Sink
	switch sink {
	case "file":
		s = training.FileSink{Dir: out}
	case "tracking":
		store, err := cli.OpenStore(cfg, logger)
		if err != nil {
			cli.Exit(logger, err)
		}
		defer store.Close()
		s = training.TrackingSink{Store: store, Experiment: cfg.Experiment}
	default:
		cli.Exit(logger, errors.NewValidationError("sink", "must be tracking or file", sink))
	}

	res, err := training.Run(ctx, p, s, logger)
	if err != nil {
		cli.Exit(logger, err)
	}

	cli.WriteReport(os.Stdout, res.Report)
	fmt.Printf("[OK] Training finished - R²: %.2f%%, RMSE: %.2f\n", res.Report.R2*100, res.Report.RMSE)
	fmt.Printf("Model saved to %s\n", res.Location)
}
