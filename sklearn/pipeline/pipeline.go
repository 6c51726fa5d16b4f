// Package pipeline は前処理（ColumnTransformer）と回帰器（RandomForestRegressor）を
// 1つの学習・推論単位にまとめます。
//
// Pipeline は公開フィールドだけで状態を持つため、core/model.SaveModel で gob として
// 保存し、LoadModel でそのまま復元して推論に使えます。
package pipeline

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/examscore/core/model"
	"github.com/YuminosukeSato/examscore/dataset"
	"github.com/YuminosukeSato/examscore/metrics"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
	"github.com/YuminosukeSato/examscore/preprocessing"
	"github.com/YuminosukeSato/examscore/sklearn/ensemble"
)

// Step names used in error messages and logs.
const (
	StepPreprocessor = "preprocessor"
	StepRegressor    = "regressor"
)

// Pipeline chains the column transformer and the forest.
type Pipeline struct {
	State *model.StateManager

	Schema       *dataset.Schema
	Preprocessor *preprocessing.ColumnTransformer
	Regressor    *ensemble.RandomForestRegressor
}

// Option configures a Pipeline at construction time.
type Option func(*options)

type options struct {
	remainder string
}

// WithRemainder sets the numerical column policy of the preprocessor.
func WithRemainder(remainder string) Option {
	return func(o *options) { o.remainder = remainder }
}

// New はスキーマから特徴量を分割し、未学習の Pipeline を作成する
//
// 使用例:
//
//	rf := ensemble.NewRandomForestRegressor(ensemble.WithNEstimators(100), ensemble.WithMaxDepth(5))
//	p, err := pipeline.New(frame.Schema, rf)
//	err = p.Fit(train)
func New(schema *dataset.Schema, regressor *ensemble.RandomForestRegressor, opts ...Option) (*Pipeline, error) {
	if schema == nil {
		return nil, errors.NewValueError("pipeline.New", "schema is required")
	}
	if regressor == nil {
		return nil, errors.NewValueError("pipeline.New", "regressor is required")
	}
	o := options{remainder: preprocessing.RemainderPassthrough}
	for _, opt := range opts {
		opt(&o)
	}
	switch o.remainder {
	case preprocessing.RemainderPassthrough, preprocessing.RemainderScale, preprocessing.RemainderDrop:
	default:
		return nil, errors.NewValidationError("remainder", "must be passthrough, scale or drop", o.remainder)
	}

	categorical, numerical := dataset.Partition(schema, schema.Target)
	ct := preprocessing.NewColumnTransformer(categorical, numerical).WithRemainder(o.remainder)

	return &Pipeline{
		State:        model.NewStateManager(),
		Schema:       schema,
		Preprocessor: ct,
		Regressor:    regressor,
	}, nil
}

// IsFitted reports whether Fit has completed.
func (p *Pipeline) IsFitted() bool {
	return p.State != nil && p.State.IsFitted()
}

// Fit は前処理を学習・適用したあと回帰器を学習する。目的変数は Schema.Target 列から取る
func (p *Pipeline) Fit(frame *dataset.Frame) error {
	y, err := frame.Target(p.Schema.Target)
	if err != nil {
		return errors.Wrap(err, "failed to read target")
	}
	return p.FitXY(frame, y)
}

// FitXY fits the pipeline with an explicit target vector.
func (p *Pipeline) FitXY(frame *dataset.Frame, y mat.Vector) error {
	logger := log.GetLoggerWithName("Pipeline")
	if p.State == nil {
		p.State = model.NewStateManager()
	}
	p.State.Reset()

	X, err := p.Preprocessor.FitTransform(frame)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to fit step '%s'", StepPreprocessor))
	}
	if err := p.Regressor.Fit(X, y); err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to fit step '%s'", StepRegressor))
	}

	rows, cols := X.Dims()
	p.State.SetFitted()
	p.State.SetDimensions(cols, rows)
	logger.Info("Pipeline fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		log.SchemaKey, p.Schema.String(),
	)
	return nil
}

// Transform returns the encoded design matrix for frame.
func (p *Pipeline) Transform(frame *dataset.Frame) (*mat.Dense, error) {
	if err := p.State.RequireFitted("Pipeline", "Transform"); err != nil {
		return nil, err
	}
	X, err := p.Preprocessor.Transform(frame)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to transform at step '%s'", StepPreprocessor))
	}
	return X, nil
}

// Predict は前処理を適用して予測値を返す
func (p *Pipeline) Predict(frame *dataset.Frame) (*mat.VecDense, error) {
	X, err := p.Transform(frame)
	if err != nil {
		return nil, err
	}
	pred, err := p.Regressor.Predict(X)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("failed to predict at step '%s'", StepRegressor))
	}
	return pred, nil
}

// PredictRecords は列名をキーにしたレコードから予測する
func (p *Pipeline) PredictRecords(records []map[string]interface{}) (*mat.VecDense, error) {
	if p.Schema == nil {
		return nil, errors.NewValueError("Pipeline.PredictRecords", "pipeline has no schema")
	}
	frame, err := dataset.FrameFromRecords(p.Schema, records)
	if err != nil {
		return nil, err
	}
	return p.Predict(frame)
}

// Score returns R² of the predictions on frame against its target column.
func (p *Pipeline) Score(frame *dataset.Frame) (float64, error) {
	y, err := frame.Target(p.Schema.Target)
	if err != nil {
		return 0, err
	}
	pred, err := p.Predict(frame)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(y, pred)
}

// FeatureNames returns the encoded feature names in matrix column order.
func (p *Pipeline) FeatureNames() ([]string, error) {
	if err := p.State.RequireFitted("Pipeline", "FeatureNames"); err != nil {
		return nil, err
	}
	return p.Preprocessor.FeatureNames(), nil
}

// GetParams は各ステップのパラメータを "step__param" 形式で返す
func (p *Pipeline) GetParams() map[string]interface{} {
	params := make(map[string]interface{})
	for k, v := range p.Preprocessor.GetParams() {
		params[StepPreprocessor+"__"+k] = v
	}
	for k, v := range p.Regressor.GetParams() {
		params[StepRegressor+"__"+k] = v
	}
	return params
}
