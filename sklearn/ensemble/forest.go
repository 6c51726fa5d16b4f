// Package ensemble は決定木のアンサンブル（ランダムフォレスト回帰）を提供します。
package ensemble

import (
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/examscore/core/model"
	"github.com/YuminosukeSato/examscore/core/parallel"
	"github.com/YuminosukeSato/examscore/metrics"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
	"github.com/YuminosukeSato/examscore/sklearn/tree"
)

// predictParallelThreshold 行を超える入力では予測を CPU コア数に分割して並列に行う
const predictParallelThreshold = 256

// RandomForestRegressor はブートストラップ標本で学習した回帰木の平均を予測とする
//
// 木ごとのシードは RandomState から作った1つの乱数列から順に引かれ、木は逐次に
// 学習されます。同じシード・データ・設定であれば常に同じフォレストになります。
type RandomForestRegressor struct {
	State *model.StateManager

	NEstimators     int
	MaxDepth        int // 0 は無制限
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // 0 はすべての特徴量
	RandomState     int64
	Bootstrap       bool

	Estimators []*tree.DecisionTreeRegressor
}

// Option は RandomForestRegressor の設定関数
type Option func(*RandomForestRegressor)

func WithNEstimators(n int) Option { return func(f *RandomForestRegressor) { f.NEstimators = n } }

func WithMaxDepth(d int) Option { return func(f *RandomForestRegressor) { f.MaxDepth = d } }

func WithMinSamplesSplit(n int) Option {
	return func(f *RandomForestRegressor) { f.MinSamplesSplit = n }
}

func WithMinSamplesLeaf(n int) Option {
	return func(f *RandomForestRegressor) { f.MinSamplesLeaf = n }
}

func WithMaxFeatures(k int) Option { return func(f *RandomForestRegressor) { f.MaxFeatures = k } }

func WithRandomState(seed int64) Option {
	return func(f *RandomForestRegressor) { f.RandomState = seed }
}

func WithBootstrap(b bool) Option { return func(f *RandomForestRegressor) { f.Bootstrap = b } }

// NewRandomForestRegressor は新しいランダムフォレスト回帰を作成する
//
// デフォルト: n_estimators=100, max_depth=0（無制限）, min_samples_split=2,
// min_samples_leaf=1, max_features=0（すべて）, random_state=0, bootstrap=true
//
// 使用例:
//
//	rf := ensemble.NewRandomForestRegressor(
//	    ensemble.WithNEstimators(100),
//	    ensemble.WithMaxDepth(5),
//	    ensemble.WithRandomState(42),
//	)
//	err := rf.Fit(X, y)
func NewRandomForestRegressor(opts ...Option) *RandomForestRegressor {
	f := &RandomForestRegressor{
		State:           model.NewStateManager(),
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// IsFitted reports whether Fit has completed.
func (f *RandomForestRegressor) IsFitted() bool {
	return f.State != nil && f.State.IsFitted()
}

func (f *RandomForestRegressor) validateParams() error {
	if f.NEstimators <= 0 {
		return errors.NewValidationError("n_estimators", "must be > 0", f.NEstimators)
	}
	if f.MaxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be >= 0", f.MaxDepth)
	}
	return nil
}

// Fit はフォレストを学習する
func (f *RandomForestRegressor) Fit(X mat.Matrix, y mat.Vector) (err error) {
	defer errors.Recover(&err, "RandomForestRegressor.Fit")

	if err := f.validateParams(); err != nil {
		return err
	}
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("RandomForestRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if y.Len() != r {
		return errors.NewDimensionError("RandomForestRegressor.Fit", r, y.Len(), 0)
	}
	if f.State == nil {
		f.State = model.NewStateManager()
	}
	f.State.Reset()

	logger := log.GetLoggerWithName("ensemble").With(log.ModelNameKey, "RandomForestRegressor")
	start := time.Now()

	// 行列は木ごとに列へ展開されるため、一度だけ密行列にしておく
	dense := mat.DenseCopyOf(X)
	rng := rand.New(rand.NewSource(f.RandomState))
	estimators := make([]*tree.DecisionTreeRegressor, f.NEstimators)
	for k := range estimators {
		seed := rng.Int63()
		t := tree.NewDecisionTreeRegressor(
			tree.WithMaxDepth(f.MaxDepth),
			tree.WithMinSamplesSplit(f.MinSamplesSplit),
			tree.WithMinSamplesLeaf(f.MinSamplesLeaf),
			tree.WithMaxFeatures(f.MaxFeatures),
			tree.WithRandomState(seed),
		)

		idx := make([]int, r)
		if f.Bootstrap {
			sampler := rand.New(rand.NewSource(seed))
			for i := range idx {
				idx[i] = sampler.Intn(r)
			}
		} else {
			for i := range idx {
				idx[i] = i
			}
		}

		if err := t.FitIndexed(dense, y, idx); err != nil {
			return errors.Wrapf(err, "fitting estimator %d", k)
		}
		estimators[k] = t
	}

	f.Estimators = estimators
	f.State.SetDimensions(c, r)
	f.State.SetFitted()

	logger.Info("RandomForestRegressor fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, r,
		log.FeaturesKey, c,
		log.NEstimatorsKey, f.NEstimators,
		log.MaxDepthKey, f.MaxDepth,
		log.RandomSeedKey, f.RandomState,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// Predict は各木の予測値の平均を返す
// モデルは読み取り専用で使われるため、複数のゴルーチンから同時に呼び出せる
func (f *RandomForestRegressor) Predict(X mat.Matrix) (pred *mat.VecDense, err error) {
	defer errors.Recover(&err, "RandomForestRegressor.Predict")

	r, c := X.Dims()
	if err := f.State.RequireFeatures("RandomForestRegressor", "Predict", c); err != nil {
		return nil, err
	}

	out := make([]float64, r)
	nTrees := float64(len(f.Estimators))
	parallel.ParallelizeWithThreshold(r, predictParallelThreshold, func(start, end int) {
		row := make([]float64, c)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			var sum float64
			for _, t := range f.Estimators {
				sum += t.PredictRow(row)
			}
			out[i] = sum / nTrees
		}
	})

	if err := errors.CheckNumericalStability("RandomForestRegressor.Predict", out); err != nil {
		return nil, err
	}
	return mat.NewVecDense(r, out), nil
}

// Score は決定係数 R² を返す
func (f *RandomForestRegressor) Score(X mat.Matrix, y mat.Vector) (float64, error) {
	pred, err := f.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(y, pred)
}

// FeatureImportances は各木の特徴量重要度の平均を返す
func (f *RandomForestRegressor) FeatureImportances() ([]float64, error) {
	if err := f.State.RequireFitted("RandomForestRegressor", "FeatureImportances"); err != nil {
		return nil, err
	}
	nFeatures, _ := f.State.GetDimensions()
	out := make([]float64, nFeatures)
	for _, t := range f.Estimators {
		imp, err := t.FeatureImportances()
		if err != nil {
			return nil, err
		}
		for j, v := range imp {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(f.Estimators))
	}
	return out, nil
}

// GetParams はハイパーパラメータを返す
func (f *RandomForestRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      f.NEstimators,
		"max_depth":         f.MaxDepth,
		"min_samples_split": f.MinSamplesSplit,
		"min_samples_leaf":  f.MinSamplesLeaf,
		"max_features":      f.MaxFeatures,
		"random_state":      f.RandomState,
		"bootstrap":         f.Bootstrap,
	}
}

// String はモデルの文字列表現を返す
func (f *RandomForestRegressor) String() string {
	return fmt.Sprintf("RandomForestRegressor(n_estimators=%d, max_depth=%d, random_state=%d)",
		f.NEstimators, f.MaxDepth, f.RandomState)
}

var _ model.Regressor = (*RandomForestRegressor)(nil)
