// Command gateway は推論 API の前段に置くプロキシを起動します。
package main

import (
	"flag"
	"os"

	"github.com/YuminosukeSato/examscore/internal/cli"
	"github.com/YuminosukeSato/examscore/serving"
)

func main() {
	var (
		common   cli.Common
		addr     string
		upstream string
	)
	fs := flag.NewFlagSet("gateway", flag.ExitOnError)
	common.Register(fs)
	fs.StringVar(&addr, "addr", "", "listen address (overrides config)")
	fs.StringVar(&upstream, "upstream", "", "prediction API base URL (overrides config)")
	fs.Parse(os.Args[1:])

	cfg, logger, err := cli.Setup("gateway", common)
	if err != nil {
		cli.Exit(nil, err)
	}
	if addr != "" {
		cfg.Gateway.Addr = addr
	}
	if upstream != "" {
		cfg.Gateway.Upstream = upstream
	}
	ctx, cancel := cli.SignalContext()
	defer cancel()

	if err := serving.NewGateway(cfg.Gateway, logger).Run(ctx); err != nil {
		cli.Exit(logger, err)
	}
}
