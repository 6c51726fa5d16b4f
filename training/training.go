// Package training は学習の一連の流れ（読み込み・分割・学習・評価・保存）をまとめます。
//
// 使用例:
//
//	p := training.DefaultParams()
//	p.DataPath = "student_habits_performance.csv"
//	res, err := training.Run(ctx, p, training.FileSink{Dir: "models"}, logger)
//	fmt.Println(res.Report)
package training

import (
	"context"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/examscore/dataset"
	"github.com/YuminosukeSato/examscore/metrics"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
	"github.com/YuminosukeSato/examscore/preprocessing"
	"github.com/YuminosukeSato/examscore/sklearn/ensemble"
	"github.com/YuminosukeSato/examscore/sklearn/modelselection"
	"github.com/YuminosukeSato/examscore/sklearn/pipeline"
)

// ModelType is logged as the model_type param.
const ModelType = "RandomForestRegressor"

// Sink persists a trained pipeline and returns where it went.
type Sink interface {
	Persist(ctx context.Context, res *Result) (string, error)
}

// Result は1回の学習の成果物です。
type Result struct {
	Params      Params
	Pipeline    *pipeline.Pipeline
	Report      metrics.Report
	Categorical []string
	Numerical   []string

	Train *dataset.Frame
	Test  *dataset.Frame
	YTest *mat.VecDense
	YPred *mat.VecDense

	// Location は Sink が返した保存先（ファイルパスまたは runs:/ URI）
	Location string
	RunID    string
	Duration time.Duration
}

// NFeatures returns the width of the encoded design matrix.
func (r *Result) NFeatures() int {
	names, err := r.Pipeline.FeatureNames()
	if err != nil {
		return 0
	}
	return len(names)
}

// Run はデータを読み込んでパイプラインを学習・評価し、sink に保存する
// sink が nil の場合は保存しない
func Run(ctx context.Context, p Params, sink Sink, logger log.Logger) (*Result, error) {
	if logger == nil {
		logger = log.GetLoggerWithName("training")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	var schema *dataset.Schema
	if p.SchemaPath != "" {
		s, err := dataset.LoadSchema(p.SchemaPath)
		if err != nil {
			return nil, err
		}
		schema = s
	}
	frame, err := dataset.LoadCSV(p.DataPath, schema, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Dataset loaded",
		log.OperationKey, log.OperationLoad,
		log.SourceKey, p.DataPath,
		log.SchemaKey, frame.Schema.String(),
		log.SamplesKey, frame.NRows(),
	)
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	categorical, numerical := dataset.Partition(frame.Schema, frame.Schema.Target)
	remainder := preprocessing.RemainderPassthrough
	if p.ScaleNumeric {
		remainder = preprocessing.RemainderScale
	}
	rf := ensemble.NewRandomForestRegressor(
		ensemble.WithNEstimators(p.NEstimators),
		ensemble.WithMaxDepth(p.MaxDepth),
		ensemble.WithRandomState(p.RandomSeed),
	)
	pl, err := pipeline.New(frame.Schema, rf, pipeline.WithRemainder(remainder))
	if err != nil {
		return nil, err
	}

	split, err := modelselection.TrainTestSplit(frame.NRows(), p.TestSize, p.RandomSeed)
	if err != nil {
		return nil, err
	}
	train, err := frame.Take(split.Train)
	if err != nil {
		return nil, err
	}
	test, err := frame.Take(split.Test)
	if err != nil {
		return nil, err
	}

	if err := pl.Fit(train); err != nil {
		return nil, errors.Wrap(err, "training failed")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	yTest, err := test.Target(frame.Schema.Target)
	if err != nil {
		return nil, err
	}
	yPred, err := pl.Predict(test)
	if err != nil {
		return nil, errors.Wrap(err, "evaluation failed")
	}
	report, err := metrics.Evaluate(yTest, yPred)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Params:      p,
		Pipeline:    pl,
		Report:      report,
		Categorical: categorical,
		Numerical:   numerical,
		Train:       train,
		Test:        test,
		YTest:       yTest,
		YPred:       yPred,
	}
	logger.Info("Training finished",
		log.OperationKey, log.OperationScore,
		log.NEstimatorsKey, p.NEstimators,
		log.MaxDepthKey, p.MaxDepth,
		log.MAEKey, report.MAE,
		log.RMSEKey, report.RMSE,
		log.R2ScoreKey, report.R2,
	)

	if sink != nil {
		loc, err := sink.Persist(ctx, res)
		if err != nil {
			return nil, errors.Wrap(err, "failed to persist model")
		}
		res.Location = loc
		logger.Info("Model persisted", log.OperationKey, log.OperationSave, log.ArtifactKey, loc)
	}
	res.Duration = time.Since(start)
	return res, nil
}
