package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Fit",
			kind:    "invalid input",
			err:     fmt.Errorf("test error"),
			wantMsg: "examscore: Fit: invalid input: test error",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not fitted",
			err:     nil,
			wantMsg: "examscore: Predict: not fitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			if !strings.Contains(formatted, "errors_test.go") {
				t.Error("Expected stack trace to contain test file name")
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 10, 8, 1)

	want := "examscore: Predict: dimension mismatch on axis 1 (features). Expected 10, got 8"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Error("Error should be castable to *DimensionError")
	}
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("RandomForestRegressor", "Predict")

	want := "examscore: RandomForestRegressor: this model is not fitted yet. Call Fit() before using Predict()"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestDataErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *DataError
		want string
	}{
		{
			name: "file level",
			err:  &DataError{Source: "data.csv", Reason: "cannot open file"},
			want: "examscore: data error in data.csv: cannot open file",
		},
		{
			name: "cell level",
			err:  &DataError{Source: "data.csv", Column: "age", Row: 3, Reason: "not a number"},
			want: `examscore: data error in data.csv (column "age", row 3): not a number`,
		},
		{
			name: "column only with cause",
			err:  &DataError{Source: "request", Column: "gender", Reason: "missing column", Err: ErrSchemaMismatch},
			want: `examscore: data error in request (column "gender"): missing column: schema mismatch`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}

	err := NewDataError("request", "gender", 0, "missing column", ErrSchemaMismatch)
	if !Is(err, ErrSchemaMismatch) {
		t.Error("DataError should unwrap to its cause")
	}
}

func TestModelUnavailableIs(t *testing.T) {
	err := NewModelUnavailableError("models:/student-score-regressor/Production", "no version in stage")
	if !Is(err, ErrModelUnavailable) {
		t.Error("ModelUnavailableError should match ErrModelUnavailable")
	}

	wrapped := Wrap(err, "startup")
	if !Is(wrapped, ErrModelUnavailable) {
		t.Error("wrapped ModelUnavailableError should still match")
	}
	if !strings.Contains(wrapped.Error(), "models:/student-score-regressor/Production") {
		t.Errorf("message should carry the uri, got %q", wrapped.Error())
	}
}

func TestWarnUsesZerologFunc(t *testing.T) {
	var got []error
	SetZerologWarnFunc(func(w error) { got = append(got, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewUndefinedMetricWarning("R2", "constant y_true", 0))

	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}
	if !strings.Contains(got[0].Error(), "'R2' is ill-defined") {
		t.Errorf("unexpected warning text %q", got[0].Error())
	}
}

func TestWarnFallsBackToHandler(t *testing.T) {
	var got []error
	prev := warningHandler
	SetZerologWarnFunc(nil)
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(prev)

	Warn(NewSchemaInferredWarning("data.csv", 5))

	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}
	if !strings.Contains(got[0].Error(), "data.csv") {
		t.Errorf("unexpected warning text %q", got[0].Error())
	}

	// ハンドラが nil の場合は何もしない
	SetWarningHandler(nil)
	Warn(NewSchemaInferredWarning("data.csv", 5))
	if len(got) != 1 {
		t.Errorf("nil handler should drop warnings, got %d", len(got))
	}
}

func TestCheckNumericalStability(t *testing.T) {
	if err := CheckNumericalStability("ok", []float64{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := CheckScalar("metrics.MSE", nan())
	if err == nil {
		t.Fatal("expected error for NaN")
	}
	var numErr *NumericalInstabilityError
	if !As(err, &numErr) {
		t.Fatalf("expected NumericalInstabilityError, got %T", err)
	}
	if numErr.Operation != "metrics.MSE" {
		t.Errorf("operation = %s", numErr.Operation)
	}
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
