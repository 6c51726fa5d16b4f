// Command runs は実験のランを指定したメトリクスの順に一覧表示します。
package main

import (
	"flag"
	"os"

	"github.com/YuminosukeSato/examscore/internal/cli"
	"github.com/YuminosukeSato/examscore/metrics"
	"github.com/YuminosukeSato/examscore/tracking"
)

func main() {
	var (
		common     cli.Common
		experiment string
		orderBy    string
		limit      int
		ascending  bool
	)
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	common.Register(fs)
	fs.StringVar(&experiment, "experiment", "", "experiment name (overrides config)")
	fs.StringVar(&orderBy, "order_by", metrics.NameR2, "metric to sort by")
	fs.BoolVar(&ascending, "asc", false, "sort ascending")
	fs.IntVar(&limit, "limit", 20, "maximum runs to show (0 = all)")
	fs.Parse(os.Args[1:])

	cfg, logger, err := cli.Setup("runs", common)
	if err != nil {
		cli.Exit(nil, err)
	}
	if experiment != "" {
		cfg.Experiment = experiment
	}
	ctx, cancel := cli.SignalContext()
	defer cancel()

	store, err := cli.OpenStore(cfg, logger)
	if err != nil {
		cli.Exit(logger, err)
	}
	defer store.Close()

	exp, err := store.GetExperimentByName(ctx, cfg.Experiment)
	if err != nil {
		cli.Exit(logger, err)
	}
	runs, err := store.SearchRuns(ctx, exp.ID, tracking.SearchOptions{
		OrderBy:   orderBy,
		Ascending: ascending,
		Limit:     limit,
	})
	if err != nil {
		cli.Exit(logger, err)
	}
	cli.WriteRuns(os.Stdout, runs, orderBy)
}
