package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/examscore/pkg/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "mlruns.db", cfg.Tracking.DB)
	assert.Equal(t, "student-score-regression-project", cfg.Experiment)
	assert.Equal(t, "student-score-regressor", cfg.Model.Name)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "http://localhost:8000", cfg.Gateway.Upstream)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Model, cfg.Model)
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "examscore.yaml")
	data := []byte(`
tracking:
  db: /tmp/track.db
model:
  stage: Production
server:
  read_timeout: 3s
log_level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/track.db", cfg.Tracking.DB)
	assert.Equal(t, "mlruns", cfg.Tracking.ArtifactRoot)
	assert.Equal(t, "Production", cfg.Model.Stage)
	assert.Equal(t, "student-score-regressor", cfg.Model.Name)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))
	_, err = Load(path)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		EnvTrackingDB: "env.db",
		EnvUpstream:   " http://api:8000 ",
	}
	cfg.applyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "env.db", cfg.Tracking.DB)
	assert.Equal(t, "http://api:8000", cfg.Gateway.Upstream)
	assert.Equal(t, ":8000", cfg.Server.Addr)
}
