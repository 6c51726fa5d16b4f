package training

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/examscore/core/model"
	"github.com/YuminosukeSato/examscore/dataset"
	"github.com/YuminosukeSato/examscore/metrics"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/tracking"
)

// Artifact names written by TrackingSink.
const (
	ModelArtifactPath = "student_model"
	SignatureFile     = "signature.json"
	InputExampleFile  = "input_example.json"
	PlotFile          = "predictions.png"

	inputExampleRows = 5
)

// FileSink はパイプラインを <Dir>/student_model_<YYYYMMDD_HHMMSS>.gob に保存する
type FileSink struct {
	Dir string
	Now func() time.Time
}

// Persist writes the pipeline and returns the file path.
func (s FileSink) Persist(_ context.Context, res *Result) (string, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	path := filepath.Join(s.Dir, "student_model_"+now().Format("20060102_150405")+".gob")
	if err := model.SaveModel(res.Pipeline, path); err != nil {
		return "", err
	}
	return path, nil
}

// TrackingSink は実験にランを作成し、パラメータ・メトリクス・モデルを記録する
type TrackingSink struct {
	Store      *tracking.Store
	Experiment string
	// SkipPlot disables the predictions.png artifact.
	SkipPlot bool
}

// Persist はランを記録して runs:/<id>/student_model を返す
// 途中で失敗した場合、ランは FAILED で終了する
func (s TrackingSink) Persist(ctx context.Context, res *Result) (uri string, err error) {
	if s.Store == nil {
		return "", errors.NewValueError("TrackingSink.Persist", "store is required")
	}
	exp, err := s.Store.GetOrCreateExperiment(ctx, s.Experiment)
	if err != nil {
		return "", err
	}
	run, err := s.Store.StartRun(ctx, exp, res.Params.RunName)
	if err != nil {
		return "", err
	}
	res.RunID = run.ID()
	defer func() {
		if err != nil {
			_ = run.End(context.WithoutCancel(ctx), tracking.RunFailed)
		}
	}()

	params := res.Params.AsStrings()
	params["model_type"] = ModelType
	params["n_features"] = strconv.Itoa(res.NFeatures())
	params["categorical_cols"] = strings.Join(res.Categorical, ", ")
	params["schema"] = res.Pipeline.Schema.String()
	if err = run.LogParams(ctx, params); err != nil {
		return "", err
	}

	values := res.Report.Map()
	values["train_samples"] = float64(res.Train.NRows())
	values["test_samples"] = float64(res.Test.NRows())
	if err = run.LogMetrics(ctx, values); err != nil {
		return "", err
	}

	if uri, err = run.LogModel(ModelArtifactPath, res.Pipeline); err != nil {
		return "", err
	}
	if err = run.WriteArtifact(filepath.Join(ModelArtifactPath, SignatureFile), func(w io.Writer) error {
		return writeJSON(w, NewSignature(res.Pipeline.Schema))
	}); err != nil {
		return "", err
	}
	if err = run.WriteArtifact(filepath.Join(ModelArtifactPath, InputExampleFile), func(w io.Writer) error {
		return writeJSON(w, NewInputExample(res.Train, res.Pipeline.Schema, inputExampleRows))
	}); err != nil {
		return "", err
	}

	if !s.SkipPlot {
		if err = logPlot(run, res); err != nil {
			return "", err
		}
	}

	if err = run.End(ctx, tracking.RunFinished); err != nil {
		return "", err
	}
	return uri, nil
}

func logPlot(run *tracking.Run, res *Result) error {
	dir, err := os.MkdirTemp("", "examscore-plot-*")
	if err != nil {
		return errors.WithStack(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, PlotFile)
	title := "Predicted vs actual (R2 " + strconv.FormatFloat(res.Report.R2, 'f', 3, 64) + ")"
	if err := metrics.PlotPredictions(res.YTest, res.YPred, title, path); err != nil {
		return err
	}
	return run.LogArtifact(path, "")
}

// ColumnSpec は入出力シグネチャの1列です。
type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Signature describes model inputs and outputs.
type Signature struct {
	Schema  string       `json:"schema"`
	Inputs  []ColumnSpec `json:"inputs"`
	Outputs []ColumnSpec `json:"outputs"`
}

// NewSignature はスキーマの特徴量を string / double の列として記述する
func NewSignature(schema *dataset.Schema) Signature {
	sig := Signature{
		Schema:  schema.String(),
		Outputs: []ColumnSpec{{Name: schema.Target, Type: "double"}},
	}
	for _, f := range schema.Features {
		typ := "double"
		if f.Kind == dataset.Categorical {
			typ = "string"
		}
		sig.Inputs = append(sig.Inputs, ColumnSpec{Name: f.Name, Type: typ})
	}
	return sig
}

// InputExample is the split-orientation example of training rows.
type InputExample struct {
	Columns []string        `json:"columns"`
	Data    [][]interface{} `json:"data"`
}

// NewInputExample returns up to n feature rows of frame.
func NewInputExample(frame *dataset.Frame, schema *dataset.Schema, n int) InputExample {
	if n > frame.NRows() {
		n = frame.NRows()
	}
	ex := InputExample{Columns: schema.FeatureNames()}
	for i := 0; i < n; i++ {
		row := frame.Row(i)
		values := make([]interface{}, len(ex.Columns))
		for j, c := range ex.Columns {
			values[j] = row[c]
		}
		ex.Data = append(ex.Data, values)
	}
	return ex
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
