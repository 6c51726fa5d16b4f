package training

import (
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/YuminosukeSato/examscore/pkg/errors"
)

// DefaultDataPath is the dataset read when Params.DataPath is empty.
const DefaultDataPath = "student_habits_performance.csv"

// Params は1回の学習のハイパーパラメータと入力です。
type Params struct {
	NEstimators  int     `validate:"gt=0"`
	MaxDepth     int     `validate:"gte=0"` // 0 は無制限
	TestSize     float64 `validate:"gt=0,lt=1"`
	RandomSeed   int64
	DataPath     string `validate:"required"`
	SchemaPath   string // 空なら <data>.schema.yaml か推論
	ScaleNumeric bool   // 数値列を StandardScaler で標準化する
	RunName      string
}

// DefaultParams returns n_estimators=100, max_depth=5, test_size=0.2, random_seed=42.
func DefaultParams() Params {
	return Params{
		NEstimators: 100,
		MaxDepth:    5,
		TestSize:    0.2,
		RandomSeed:  42,
		DataPath:    DefaultDataPath,
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func paramsValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

// Validate はパラメータを検証し、最初に失敗したフィールドを ValidationError で返す
func (p Params) Validate() error {
	err := paramsValidator().Struct(p)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errors.NewValidationError(paramName(fe.Field()), "failed "+fe.Tag()+" "+fe.Param(), fe.Value())
	}
	return errors.Wrap(err, "invalid training parameters")
}

// AsStrings returns the params logged to the tracking store.
func (p Params) AsStrings() map[string]string {
	return map[string]string{
		"n_estimators": strconv.Itoa(p.NEstimators),
		"max_depth":    strconv.Itoa(p.MaxDepth),
		"test_size":    strconv.FormatFloat(p.TestSize, 'g', -1, 64),
		"random_seed":  strconv.FormatInt(p.RandomSeed, 10),
	}
}

func paramName(field string) string {
	switch field {
	case "NEstimators":
		return "n_estimators"
	case "MaxDepth":
		return "max_depth"
	case "TestSize":
		return "test_size"
	case "DataPath":
		return "data_path"
	default:
		return field
	}
}
