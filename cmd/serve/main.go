// Command serve はモデルを読み込んで推論 API を起動します。
// モデルが読み込めない場合は待ち受けを始めずに終了コード 1 で終了します。
package main

import (
	"flag"
	"os"

	"github.com/YuminosukeSato/examscore/internal/cli"
	"github.com/YuminosukeSato/examscore/serving"
)

func main() {
	var (
		common    cli.Common
		addr      string
		name      string
		stage     string
		modelPath string
	)
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	common.Register(fs)
	fs.StringVar(&addr, "addr", "", "listen address (overrides config)")
	fs.StringVar(&name, "model_name", "", "registered model name (overrides config)")
	fs.StringVar(&stage, "stage", "", "stage or version to serve (overrides config)")
	fs.StringVar(&modelPath, "model_path", "", "serve a .gob file instead of the registry")
	fs.Parse(os.Args[1:])

	cfg, logger, err := cli.Setup("serve", common)
	if err != nil {
		cli.Exit(nil, err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if name != "" {
		cfg.Model.Name = name
	}
	if stage != "" {
		cfg.Model.Stage = stage
	}
	ctx, cancel := cli.SignalContext()
	defer cancel()

	var handle *serving.Handle
	if modelPath != "" {
		handle, err = serving.LoadHandleFromFile(modelPath)
	} else {
		store, serr := cli.OpenStore(cfg, logger)
		if serr != nil {
			cli.Exit(logger, serr)
		}
		handle, err = serving.LoadHandle(ctx, store, cfg.Model.Name, cfg.Model.Stage)
		// ハンドルはメモリ上に読み込み済みなのでストアは不要
		store.Close()
	}
	if err != nil {
		cli.Exit(logger, err)
	}

	srv := serving.NewServer(handle, logger, serving.WithConfig(cfg.Server))
	if err := srv.Run(ctx); err != nil {
		cli.Exit(logger, err)
	}
}
