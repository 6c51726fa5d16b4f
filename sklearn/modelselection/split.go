// Package modelselection はデータの学習用・評価用への分割を提供します。
package modelselection

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/examscore/pkg/errors"
)

// Split は学習用と評価用の行インデックスです。両者は互いに素で、合わせて全行になります。
type Split struct {
	Train []int
	Test  []int
}

// TestCount は n 行に対する評価用の行数 round(testSize*n) を返す（0.5 は0から遠い方へ丸める）
func TestCount(n int, testSize float64) int {
	return int(math.Round(testSize * float64(n)))
}

// TrainTestSplit は n 行をシード付きのランダムな並べ替えで分割する
//
// 並べ替え rand.New(rand.NewSource(seed)).Perm(n) の先頭 round(testSize*n) 個が
// 評価用、残りが学習用になります。層化は行いません。同じ n, testSize, seed であれば
// 常に同じ分割を返します。
//
// パラメータ:
//   - n: 行数
//   - testSize: 評価用の割合 (0, 1)
//   - seed: 乱数シード
//
// 戻り値:
//   - Split: 学習用・評価用のインデックス（並べ替え順）
//   - error: testSize が範囲外、またはどちらかが空になる場合の ValueError
func TrainTestSplit(n int, testSize float64, seed int64) (Split, error) {
	if n <= 0 {
		return Split{}, errors.NewValueError("TrainTestSplit", "no rows to split")
	}
	if !(testSize > 0 && testSize < 1) {
		return Split{}, errors.NewValueError("TrainTestSplit",
			fmt.Sprintf("test_size must be in (0, 1), got %v", testSize))
	}
	nTest := TestCount(n, testSize)
	if nTest == 0 || nTest == n {
		return Split{}, errors.NewValueError("TrainTestSplit",
			fmt.Sprintf("test_size=%v with %d rows leaves an empty train or test set", testSize, n))
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return Split{
		Test:  append([]int(nil), perm[:nTest]...),
		Train: append([]int(nil), perm[nTest:]...),
	}, nil
}

// TakeRows は X の指定した行を新しい行列にコピーする
func TakeRows(X mat.Matrix, idx []int) *mat.Dense {
	_, c := X.Dims()
	out := mat.NewDense(len(idx), c, nil)
	row := make([]float64, c)
	for i, j := range idx {
		mat.Row(row, j, X)
		out.SetRow(i, row)
	}
	return out
}

// TakeVec は y の指定した要素を新しいベクトルにコピーする
func TakeVec(y mat.Vector, idx []int) *mat.VecDense {
	out := mat.NewVecDense(len(idx), nil)
	for i, j := range idx {
		out.SetVec(i, y.AtVec(j))
	}
	return out
}
