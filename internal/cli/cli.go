// Package cli はコマンド群で共通のフラグ・設定・出力処理をまとめます。
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"

	"github.com/YuminosukeSato/examscore/metrics"
	"github.com/YuminosukeSato/examscore/pkg/config"
	"github.com/YuminosukeSato/examscore/pkg/log"
	"github.com/YuminosukeSato/examscore/tracking"
)

// Common holds the flags every binary accepts.
type Common struct {
	ConfigPath   string
	LogLevel     string
	TrackingDB   string
	ArtifactRoot string
}

// Register adds --config, --log_level, --tracking_db and --artifact_root to fs.
func (c *Common) Register(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigPath, "config", "", "YAML configuration file")
	fs.StringVar(&c.LogLevel, "log_level", "", "log level (debug|info|warn|error)")
	fs.StringVar(&c.TrackingDB, "tracking_db", "", "sqlite tracking database (overrides config)")
	fs.StringVar(&c.ArtifactRoot, "artifact_root", "", "artifact directory (overrides config)")
}

// Setup は設定を読み込み、フラグで上書きしてからグローバルロガーを初期化する
func Setup(name string, c Common) (config.Config, log.Logger, error) {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.TrackingDB != "" {
		cfg.Tracking.DB = c.TrackingDB
	}
	if c.ArtifactRoot != "" {
		cfg.Tracking.ArtifactRoot = c.ArtifactRoot
	}
	provider, err := log.Setup(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, provider.GetLoggerWithName(name), nil
}

// OpenStore opens the tracking store named by cfg.
func OpenStore(cfg config.Config, logger log.Logger) (*tracking.Store, error) {
	return tracking.Open(cfg.Tracking.DB, cfg.Tracking.ArtifactRoot, tracking.WithLogger(logger))
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Exit はエラーを標準エラーに出力して終了コード 1 で終了する
func Exit(logger log.Logger, err error) {
	if logger != nil {
		logger.Error("command failed", err)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// WriteReport は評価指標を表で出力する
func WriteReport(w io.Writer, r metrics.Report) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	for _, name := range r.Names() {
		table.Append([]string{name, strconv.FormatFloat(r.Map()[name], 'f', 4, 64)})
	}
	table.Render()
}

// WriteRuns は実行履歴を表で出力する。metric 列は指定したメトリクスの値
func WriteRuns(w io.Writer, runs []*tracking.RunInfo, metric string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run ID", "Name", "Status", "n_estimators", "max_depth", metric, "Started"})
	for _, r := range runs {
		value := "-"
		if v, ok := r.Metrics[metric]; ok {
			value = strconv.FormatFloat(v, 'f', 4, 64)
		}
		table.Append([]string{
			r.ID, r.Name, string(r.Status),
			r.Params["n_estimators"], r.Params["max_depth"],
			value, r.StartTime.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
}

// WriteVersions lists registered model versions.
func WriteVersions(w io.Writer, versions []*tracking.ModelVersion) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Version", "Stage", "Source"})
	for _, v := range versions {
		table.Append([]string{v.Name, strconv.Itoa(v.Version), string(v.Stage), v.Source})
	}
	table.Render()
}

// WriteParams prints a key/value table sorted by key.
func WriteParams(w io.Writer, params map[string]string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Param", "Value"})
	for _, k := range keys {
		table.Append([]string{k, params[k]})
	}
	table.Render()
}
