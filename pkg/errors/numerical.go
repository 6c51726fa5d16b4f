package errors

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
)

// NumericalInstabilityError は数値計算の結果にNaNやInfが含まれる場合のエラーです。
type NumericalInstabilityError struct {
	Operation string    // 発生した操作（例: "RandomForestRegressor.Predict", "metrics.R2Score"）
	Values    []float64 // 問題のある値（最大5件まで表示）
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("examscore: numerical instability detected in %s. Values: [%s]", e.Operation, valStr)
}

// CheckNumericalStability はNaNやInfを含む値を検出した場合にエラーを返します。
func CheckNumericalStability(operation string, values []float64) error {
	var bad []float64
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			bad = append(bad, v)
		}
	}
	if len(bad) > 0 {
		return errors.WithStack(&NumericalInstabilityError{Operation: operation, Values: bad})
	}
	return nil
}

// CheckScalar は単一の値をチェックします。
func CheckScalar(operation string, value float64) error {
	return CheckNumericalStability(operation, []float64{value})
}
