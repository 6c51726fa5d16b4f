// Command sweep は決められたハイパーパラメータの組で学習を順に実行します。
// 失敗した組があっても残りは実行し、その場合は終了コード 1 を返します。
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/YuminosukeSato/examscore/internal/cli"
	"github.com/YuminosukeSato/examscore/training"
)

type config struct {
	nEstimators int
	maxDepth    int
}

var sweep = []config{
	{nEstimators: 15, maxDepth: 3},
	{nEstimators: 20, maxDepth: 5},
	{nEstimators: 50, maxDepth: 10},
}

func main() {
	var (
		common cli.Common
		base   = training.DefaultParams()
	)
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	common.Register(fs)
	fs.StringVar(&base.DataPath, "data_path", base.DataPath, "dataset CSV")
	fs.Float64Var(&base.TestSize, "test_size", base.TestSize, "fraction of rows held out for evaluation")
	fs.Int64Var(&base.RandomSeed, "random_seed", base.RandomSeed, "seed for the split and the forest")
	fs.Parse(os.Args[1:])

	cfg, logger, err := cli.Setup("sweep", common)
	if err != nil {
		cli.Exit(nil, err)
	}
	ctx, cancel := cli.SignalContext()
	defer cancel()

	store, err := cli.OpenStore(cfg, logger)
	if err != nil {
		cli.Exit(logger, err)
	}
	defer store.Close()
	sink := training.TrackingSink{Store: store, Experiment: cfg.Experiment}

	failed := 0
	for i, c := range sweep {
		p := base
		p.NEstimators = c.nEstimators
		p.MaxDepth = c.maxDepth
		p.RunName = fmt.Sprintf("rf_%d_%d", c.nEstimators, c.maxDepth)

		fmt.Printf("\n%d) %d trees, max depth %d\n", i+1, c.nEstimators, c.maxDepth)
		res, err := training.Run(ctx, p, sink, logger)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "run %s failed: %v\n", p.RunName, err)
			continue
		}
		fmt.Printf("[OK] R²: %.2f%%, RMSE: %.2f (%s)\n", res.Report.R2*100, res.Report.RMSE, res.Location)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
