package preprocessing

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/examscore/core/model"
	"github.com/YuminosukeSato/examscore/dataset"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
)

// 数値列（remainder）の扱い
const (
	RemainderPassthrough = "passthrough"
	RemainderScale       = "scale"
	RemainderDrop        = "drop"
)

// ColumnTransformer は Frame を特徴量行列に変換する
//
// 出力はカテゴリ列の指示変数ブロックが先頭、その後に数値列が宣言順に続きます。
// 数値列は Remainder に従い、そのまま（passthrough）、標準化（scale）、
// または除外（drop）されます。
type ColumnTransformer struct {
	State *model.StateManager

	Categorical []string
	Numerical   []string
	Remainder   string

	Encoder *OneHotEncoder
	Scaler  *StandardScaler
}

// NewColumnTransformer は passthrough の ColumnTransformer を作成する
//
// 使用例:
//
//	cat, num := dataset.Partition(frame.Schema, frame.Schema.Target)
//	ct := preprocessing.NewColumnTransformer(cat, num)
//	X, err := ct.FitTransform(frame)
func NewColumnTransformer(categorical, numerical []string) *ColumnTransformer {
	return &ColumnTransformer{
		State:       model.NewStateManager(),
		Categorical: append([]string(nil), categorical...),
		Numerical:   append([]string(nil), numerical...),
		Remainder:   RemainderPassthrough,
		Encoder:     NewOneHotEncoder(),
	}
}

// WithRemainder sets the numerical column policy.
func (ct *ColumnTransformer) WithRemainder(remainder string) *ColumnTransformer {
	ct.Remainder = remainder
	return ct
}

// IsFitted reports whether Fit has completed.
func (ct *ColumnTransformer) IsFitted() bool {
	return ct.State != nil && ct.State.IsFitted()
}

// Fit はカテゴリを学習し、必要であれば数値列の統計量を計算する
func (ct *ColumnTransformer) Fit(frame *dataset.Frame) error {
	_, err := ct.FitTransform(frame)
	return err
}

// FitTransform は学習と変換を同時に行う
func (ct *ColumnTransformer) FitTransform(frame *dataset.Frame) (*mat.Dense, error) {
	switch ct.Remainder {
	case RemainderPassthrough, RemainderScale, RemainderDrop:
	default:
		return nil, errors.NewValidationError("remainder", "must be passthrough, scale or drop", ct.Remainder)
	}
	if len(ct.Categorical) == 0 && (len(ct.Numerical) == 0 || ct.Remainder == RemainderDrop) {
		return nil, errors.NewValidationError("columns", "no feature columns to transform", 0)
	}
	if ct.State == nil {
		ct.State = model.NewStateManager()
	}
	ct.State.Reset()

	logger := log.GetLoggerWithName("preprocessing").With(log.ModelNameKey, "ColumnTransformer")

	var encoded *mat.Dense
	if len(ct.Categorical) > 0 {
		cols, err := ct.stringColumns(frame)
		if err != nil {
			return nil, err
		}
		if ct.Encoder == nil {
			ct.Encoder = NewOneHotEncoder()
		}
		encoded, err = ct.Encoder.FitTransform(cols)
		if err != nil {
			return nil, err
		}
	}

	var numeric *mat.Dense
	if len(ct.Numerical) > 0 && ct.Remainder != RemainderDrop {
		raw, err := ct.floatMatrix(frame)
		if err != nil {
			return nil, err
		}
		numeric = raw
		if ct.Remainder == RemainderScale {
			ct.Scaler = NewStandardScalerDefault()
			numeric, err = ct.Scaler.FitTransform(raw)
			if err != nil {
				return nil, err
			}
		}
	}

	out := hstack(frame.NRows(), encoded, numeric)
	_, c := out.Dims()
	ct.State.SetDimensions(c, frame.NRows())
	ct.State.SetFitted()

	logger.Debug("ColumnTransformer fitted",
		log.OperationKey, log.OperationFitTransform,
		log.SamplesKey, frame.NRows(),
		log.FeaturesKey, c,
		"categorical", len(ct.Categorical),
		"numerical", len(ct.Numerical),
		"remainder", ct.Remainder,
	)
	return out, nil
}

// Transform は学習済みの変換を Frame に適用する
// 学習時の列が Frame に無い場合は DataError を返す
func (ct *ColumnTransformer) Transform(frame *dataset.Frame) (*mat.Dense, error) {
	if err := ct.State.RequireFitted("ColumnTransformer", "Transform"); err != nil {
		return nil, err
	}

	var encoded *mat.Dense
	if len(ct.Categorical) > 0 {
		cols, err := ct.stringColumns(frame)
		if err != nil {
			return nil, err
		}
		encoded, err = ct.Encoder.Transform(cols)
		if err != nil {
			return nil, err
		}
	}

	var numeric *mat.Dense
	if len(ct.Numerical) > 0 && ct.Remainder != RemainderDrop {
		raw, err := ct.floatMatrix(frame)
		if err != nil {
			return nil, err
		}
		numeric = raw
		if ct.Remainder == RemainderScale {
			numeric, err = ct.Scaler.Transform(raw)
			if err != nil {
				return nil, err
			}
		}
	}

	return hstack(frame.NRows(), encoded, numeric), nil
}

// FeatureNames は出力列名を返す（例: gender_Female, ..., age, ...）
func (ct *ColumnTransformer) FeatureNames() []string {
	var names []string
	if ct.Encoder != nil && ct.Encoder.IsFitted() {
		names = append(names, ct.Encoder.FeatureNames(ct.Categorical)...)
	}
	if ct.Remainder != RemainderDrop {
		names = append(names, ct.Numerical...)
	}
	return names
}

// GetParams は変換器のパラメータを取得する
func (ct *ColumnTransformer) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"categorical": ct.Categorical,
		"numerical":   ct.Numerical,
		"remainder":   ct.Remainder,
	}
}

func (ct *ColumnTransformer) stringColumns(frame *dataset.Frame) ([][]string, error) {
	cols := make([][]string, len(ct.Categorical))
	for j, name := range ct.Categorical {
		c, err := frame.Column(name)
		if err != nil {
			return nil, err
		}
		if c.Kind != dataset.Categorical {
			return nil, errors.NewDataError("frame", name, 0, "expected a categorical column", errors.ErrSchemaMismatch)
		}
		cols[j] = c.Strings
	}
	return cols, nil
}

func (ct *ColumnTransformer) floatMatrix(frame *dataset.Frame) (*mat.Dense, error) {
	n := frame.NRows()
	if n == 0 {
		return nil, errors.NewModelError("ColumnTransformer", "no rows", errors.ErrEmptyData)
	}
	out := mat.NewDense(n, len(ct.Numerical), nil)
	for j, name := range ct.Numerical {
		c, err := frame.Column(name)
		if err != nil {
			return nil, err
		}
		if c.Kind != dataset.Numerical {
			return nil, errors.NewDataError("frame", name, 0, "expected a numerical column", errors.ErrSchemaMismatch)
		}
		out.SetCol(j, c.Floats)
	}
	return out, nil
}

// hstack は nil でないブロックを横に連結する
func hstack(rows int, blocks ...*mat.Dense) *mat.Dense {
	total := 0
	for _, b := range blocks {
		if b != nil {
			_, c := b.Dims()
			total += c
		}
	}
	out := mat.NewDense(rows, total, nil)
	offset := 0
	for _, b := range blocks {
		if b == nil {
			continue
		}
		_, c := b.Dims()
		view := out.Slice(0, rows, offset, offset+c).(*mat.Dense)
		view.Copy(b)
		offset += c
	}
	return out
}
