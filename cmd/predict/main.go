// Command predict は登録済みモデルを読み込み、1人の学生の試験スコアを予測します。
// --input を省略するとサンプルの学生を使います。
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/YuminosukeSato/examscore/internal/cli"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/serving"
)

func main() {
	var (
		common    cli.Common
		name      string
		stage     string
		modelPath string
		input     string
	)
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	common.Register(fs)
	fs.StringVar(&name, "model_name", "", "registered model name (overrides config)")
	fs.StringVar(&stage, "stage", "", "stage or version to load (overrides config)")
	fs.StringVar(&modelPath, "model_path", "", "load a .gob file written by train --sink file instead of the registry")
	fs.StringVar(&input, "input", "", "JSON file with one student record")
	fs.Parse(os.Args[1:])

	cfg, logger, err := cli.Setup("predict", common)
	if err != nil {
		cli.Exit(nil, err)
	}
	if name != "" {
		cfg.Model.Name = name
	}
	if stage != "" {
		cfg.Model.Stage = stage
	}
	ctx, cancel := cli.SignalContext()
	defer cancel()

	features := serving.ExampleStudent()
	if input != "" {
		data, err := os.ReadFile(input)
		if err != nil {
			cli.Exit(logger, errors.Wrapf(err, "failed to read %s", input))
		}
		features = serving.StudentFeatures{}
		if err := json.Unmarshal(data, &features); err != nil {
			cli.Exit(logger, errors.Wrapf(err, "failed to parse %s", input))
		}
	}
	if err := features.Validate(); err != nil {
		cli.Exit(logger, err)
	}

	var handle *serving.Handle
	if modelPath != "" {
		handle, err = serving.LoadHandleFromFile(modelPath)
	} else {
		store, serr := cli.OpenStore(cfg, logger)
		if serr != nil {
			cli.Exit(logger, serr)
		}
		defer store.Close()
		handle, err = serving.LoadHandle(ctx, store, cfg.Model.Name, cfg.Model.Stage)
	}
	if err != nil {
		cli.Exit(logger, err)
	}

	scores, err := handle.Predict([]map[string]interface{}{features.Record()})
	if err != nil {
		cli.Exit(logger, err)
	}
	fmt.Printf("Model %s loaded\n", handle.URI())
	fmt.Printf("Predicted exam score: %.2f/100\n", scores[0])
}
