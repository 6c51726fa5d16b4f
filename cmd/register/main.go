// Command register は実験内で R² が最大のランをモデルレジストリに登録します。
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/YuminosukeSato/examscore/internal/cli"
	"github.com/YuminosukeSato/examscore/metrics"
	"github.com/YuminosukeSato/examscore/tracking"
	"github.com/YuminosukeSato/examscore/training"
)

func main() {
	var (
		common     cli.Common
		experiment string
		name       string
		stage      string
		archive    bool
	)
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	common.Register(fs)
	fs.StringVar(&experiment, "experiment", "", "experiment to search (overrides config)")
	fs.StringVar(&name, "model_name", "", "registered model name (overrides config)")
	fs.StringVar(&stage, "stage", "", "optional stage for the new version (Staging|Production|Archived)")
	fs.BoolVar(&archive, "archive_existing", false, "archive other versions in --stage")
	fs.Parse(os.Args[1:])

	cfg, logger, err := cli.Setup("register", common)
	if err != nil {
		cli.Exit(nil, err)
	}
	if experiment != "" {
		cfg.Experiment = experiment
	}
	if name != "" {
		cfg.Model.Name = name
	}
	ctx, cancel := cli.SignalContext()
	defer cancel()

	store, err := cli.OpenStore(cfg, logger)
	if err != nil {
		cli.Exit(logger, err)
	}
	defer store.Close()

	best, err := store.BestRun(ctx, cfg.Experiment, metrics.NameR2)
	if err != nil {
		cli.Exit(logger, err)
	}
	fmt.Printf("Best run %s (R²: %.2f%%)\n", best.ID, best.Metrics[metrics.NameR2]*100)

	mv, err := store.RegisterModel(ctx, cfg.Model.Name, tracking.RunURI(best.ID, training.ModelArtifactPath))
	if err != nil {
		cli.Exit(logger, err)
	}
	if stage != "" {
		st, err := tracking.ParseStage(stage)
		if err != nil {
			cli.Exit(logger, err)
		}
		if mv, err = store.TransitionModelVersionStage(ctx, mv.Name, mv.Version, st, archive); err != nil {
			cli.Exit(logger, err)
		}
	}

	versions, err := store.ListModelVersions(ctx, cfg.Model.Name)
	if err != nil {
		cli.Exit(logger, err)
	}
	cli.WriteVersions(os.Stdout, versions)
	fmt.Printf("[OK] Registered %s version %d (%s)\n", mv.Name, mv.Version, mv.Stage)
}
