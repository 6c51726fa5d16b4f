// Package config はトラッキングストア、モデルレジストリ、HTTP サーバの設定を扱います。
//
// 設定は Default() の値に YAML ファイルと環境変数を順に重ねて作られます。
// コマンドラインフラグは各バイナリがこの結果をさらに上書きします。
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
)

// 環境変数名
const (
	EnvTrackingDB   = "EXAMSCORE_TRACKING_DB"
	EnvArtifactRoot = "EXAMSCORE_ARTIFACT_ROOT"
	EnvLogLevel     = "EXAMSCORE_LOG_LEVEL"
	EnvServerAddr   = "EXAMSCORE_SERVER_ADDR"
	EnvUpstream     = "EXAMSCORE_GATEWAY_UPSTREAM"
)

// Tracking configures the sqlite tracking store.
type Tracking struct {
	DB           string `yaml:"db"`
	ArtifactRoot string `yaml:"artifact_root"`
}

// Model names the registered model served and promoted by the binaries.
type Model struct {
	Name  string `yaml:"name"`
	Stage string `yaml:"stage"`
}

// Server configures the prediction API.
type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Gateway configures the proxy in front of the prediction API.
type Gateway struct {
	Addr     string        `yaml:"addr"`
	Upstream string        `yaml:"upstream"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Config is the full configuration.
type Config struct {
	Tracking   Tracking `yaml:"tracking"`
	Experiment string   `yaml:"experiment"`
	Model      Model    `yaml:"model"`
	Server     Server   `yaml:"server"`
	Gateway    Gateway  `yaml:"gateway"`
	LogLevel   string   `yaml:"log_level"`
}

// Default はデフォルト設定を返す
func Default() Config {
	return Config{
		Tracking: Tracking{
			DB:           "mlruns.db",
			ArtifactRoot: "mlruns",
		},
		Experiment: "student-score-regression-project",
		Model: Model{
			Name:  "student-score-regressor",
			Stage: "None",
		},
		Server: Server{
			Addr:            ":8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Gateway: Gateway{
			Addr:     ":3000",
			Upstream: "http://localhost:8000",
			Timeout:  10 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load は path の YAML をデフォルトに重ね、環境変数を適用して検証する
// path が空の場合はファイルを読まない
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Tracking.DB, EnvTrackingDB)
	set(&c.Tracking.ArtifactRoot, EnvArtifactRoot)
	set(&c.LogLevel, EnvLogLevel)
	set(&c.Server.Addr, EnvServerAddr)
	set(&c.Gateway.Upstream, EnvUpstream)
}

// Validate checks required values and the log level.
func (c Config) Validate() error {
	switch {
	case c.Tracking.DB == "":
		return errors.NewValidationError("tracking.db", "must not be empty", c.Tracking.DB)
	case c.Tracking.ArtifactRoot == "":
		return errors.NewValidationError("tracking.artifact_root", "must not be empty", c.Tracking.ArtifactRoot)
	case c.Experiment == "":
		return errors.NewValidationError("experiment", "must not be empty", c.Experiment)
	case c.Model.Name == "":
		return errors.NewValidationError("model.name", "must not be empty", c.Model.Name)
	}
	if _, err := log.ToLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
