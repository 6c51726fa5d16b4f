package training

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/examscore/core/model"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
	"github.com/YuminosukeSato/examscore/sklearn/pipeline"
	"github.com/YuminosukeSato/examscore/tracking"
)

var toyPath = filepath.Join("..", "dataset", "testdata", "toy.csv")

func toyParams() Params {
	p := DefaultParams()
	p.NEstimators = 10
	p.MaxDepth = 3
	p.DataPath = toyPath
	return p
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Params)
		param string
	}{
		{"defaults", func(*Params) {}, ""},
		{"zero estimators", func(p *Params) { p.NEstimators = 0 }, "n_estimators"},
		{"negative depth", func(p *Params) { p.MaxDepth = -1 }, "max_depth"},
		{"test size one", func(p *Params) { p.TestSize = 1 }, "test_size"},
		{"test size zero", func(p *Params) { p.TestSize = 0 }, "test_size"},
		{"no data", func(p *Params) { p.DataPath = "" }, "data_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.edit(&p)
			err := p.Validate()
			if tt.param == "" {
				assert.NoError(t, err)
				return
			}
			var ve *errors.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.param, ve.ParamName)
		})
	}
}

func TestRunDeterministic(t *testing.T) {
	ctx := context.Background()
	a, err := Run(ctx, toyParams(), nil, log.Nop())
	require.NoError(t, err)
	b, err := Run(ctx, toyParams(), nil, log.Nop())
	require.NoError(t, err)

	assert.Equal(t, a.Report, b.Report)
	assert.Equal(t, 8, a.Train.NRows())
	assert.Equal(t, 2, a.Test.NRows())
	assert.Equal(t, []string{"gender", "diet_quality"}, a.Categorical)
	assert.Equal(t, []string{"study_hours_per_day", "sleep_hours"}, a.Numerical)
	assert.Empty(t, a.Location)
}

func TestRunFileSink(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	res, err := Run(context.Background(), toyParams(), FileSink{Dir: dir, Now: func() time.Time { return fixed }}, log.Nop())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "student_model_20240102_030405.gob"), res.Location)

	var loaded pipeline.Pipeline
	require.NoError(t, model.LoadModel(&loaded, res.Location))
	pred, err := loaded.Predict(res.Test)
	require.NoError(t, err)
	assert.InDeltaSlice(t, res.YPred.RawVector().Data, pred.RawVector().Data, 1e-12)
}

func TestRunTrackingSink(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := tracking.Open(filepath.Join(dir, "mlruns.db"), filepath.Join(dir, "mlruns"), tracking.WithLogger(log.Nop()))
	require.NoError(t, err)
	defer store.Close()

	res, err := Run(ctx, toyParams(), TrackingSink{Store: store, Experiment: "student-score-regression-project"}, log.Nop())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Location, "runs:/"+res.RunID))

	info, err := store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, tracking.RunFinished, info.Status)
	assert.Equal(t, "RandomForestRegressor", info.Params["model_type"])
	assert.Equal(t, "10", info.Params["n_estimators"])
	assert.Equal(t, "gender, diet_quality", info.Params["categorical_cols"])
	assert.Equal(t, "0.2", info.Params["test_size"])
	assert.Equal(t, res.Report.R2, info.Metrics["R2"])
	assert.Equal(t, 8.0, info.Metrics["train_samples"])
	assert.Equal(t, 2.0, info.Metrics["test_samples"])

	for _, name := range []string{
		filepath.Join(ModelArtifactPath, tracking.ModelFileName),
		filepath.Join(ModelArtifactPath, SignatureFile),
		filepath.Join(ModelArtifactPath, InputExampleFile),
		PlotFile,
	} {
		_, err := os.Stat(filepath.Join(info.ArtifactURI, name))
		assert.NoError(t, err, name)
	}

	data, err := os.ReadFile(filepath.Join(info.ArtifactURI, ModelArtifactPath, InputExampleFile))
	require.NoError(t, err)
	var ex InputExample
	require.NoError(t, json.Unmarshal(data, &ex))
	assert.Len(t, ex.Data, 5)
	assert.NotContains(t, ex.Columns, "exam_score")

	var loaded pipeline.Pipeline
	require.NoError(t, store.LoadModel(ctx, res.Location, &loaded))
	assert.True(t, loaded.IsFitted())
}

type failingSink struct{}

func (failingSink) Persist(context.Context, *Result) (string, error) {
	return "", errors.New("disk full")
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	p := toyParams()
	p.DataPath = filepath.Join(t.TempDir(), "missing.csv")
	_, err := Run(ctx, p, nil, log.Nop())
	var de *errors.DataError
	assert.True(t, errors.As(err, &de))

	_, err = Run(ctx, toyParams(), failingSink{}, log.Nop())
	assert.ErrorContains(t, err, "disk full")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Run(cancelled, toyParams(), nil, log.Nop())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewSignature(t *testing.T) {
	res, err := Run(context.Background(), toyParams(), nil, log.Nop())
	require.NoError(t, err)
	sig := NewSignature(res.Pipeline.Schema)
	assert.Equal(t, []ColumnSpec{{Name: "exam_score", Type: "double"}}, sig.Outputs)
	assert.Equal(t, ColumnSpec{Name: "gender", Type: "string"}, sig.Inputs[0])
	assert.Equal(t, ColumnSpec{Name: "study_hours_per_day", Type: "double"}, sig.Inputs[2])
}
