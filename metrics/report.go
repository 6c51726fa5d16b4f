package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Metric names used in reports and the tracking store.
const (
	NameMAE  = "MAE"
	NameMSE  = "MSE"
	NameRMSE = "RMSE"
	NameR2   = "R2"
)

// Report は1回の学習で計算された評価指標です。
type Report struct {
	MAE  float64 `json:"MAE"`
	MSE  float64 `json:"MSE"`
	RMSE float64 `json:"RMSE"`
	R2   float64 `json:"R2"`
}

// Evaluate は4つの指標をまとめて計算する
func Evaluate(yTrue, yPred mat.Vector) (Report, error) {
	var r Report
	var err error
	if r.MAE, err = MAE(yTrue, yPred); err != nil {
		return Report{}, err
	}
	if r.MSE, err = MSE(yTrue, yPred); err != nil {
		return Report{}, err
	}
	if r.RMSE, err = RMSE(yTrue, yPred); err != nil {
		return Report{}, err
	}
	if r.R2, err = R2Score(yTrue, yPred); err != nil {
		return Report{}, err
	}
	return r, nil
}

// Map returns the metrics keyed by their tracking names.
func (r Report) Map() map[string]float64 {
	return map[string]float64{
		NameMAE:  r.MAE,
		NameMSE:  r.MSE,
		NameRMSE: r.RMSE,
		NameR2:   r.R2,
	}
}

// Names returns metric names in display order.
func (r Report) Names() []string {
	return []string{NameMAE, NameMSE, NameRMSE, NameR2}
}

func (r Report) String() string {
	return fmt.Sprintf("MAE=%.4f MSE=%.4f RMSE=%.4f R2=%.4f", r.MAE, r.MSE, r.RMSE, r.R2)
}
