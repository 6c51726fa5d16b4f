package preprocessing

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/examscore/core/model"
	"github.com/YuminosukeSato/examscore/pkg/errors"
)

// 未知カテゴリの扱い
const (
	HandleUnknownIgnore = "ignore"
	HandleUnknownError  = "error"
)

// OneHotEncoder はカテゴリ列を指示変数（0/1）の列に変換する
//
// 入力は列ごとの文字列スライス（cols[j][i] が列 j の i 行目）です。
// 各列について学習時に観測した値をソート順に保持し、値ごとに1列を出力します。
// 学習時に観測していない値は HandleUnknown が "ignore" の場合、その列の
// 指示変数グループがすべて0になります。
type OneHotEncoder struct {
	State *model.StateManager

	// Categories は列ごとの学習済みカテゴリ（ソート済み）
	Categories [][]string

	// HandleUnknown は "ignore"（デフォルト）または "error"
	HandleUnknown string

	lookup []map[string]int
}

// NewOneHotEncoder は handle_unknown="ignore" の OneHotEncoder を作成する
func NewOneHotEncoder() *OneHotEncoder {
	return &OneHotEncoder{
		State:         model.NewStateManager(),
		HandleUnknown: HandleUnknownIgnore,
	}
}

// IsFitted reports whether Fit has completed.
func (e *OneHotEncoder) IsFitted() bool {
	return e.State != nil && e.State.IsFitted()
}

// Fit は各列の異なる値を学習する
func (e *OneHotEncoder) Fit(cols [][]string) error {
	if e.HandleUnknown != HandleUnknownIgnore && e.HandleUnknown != HandleUnknownError {
		return errors.NewValidationError("handle_unknown", "must be 'ignore' or 'error'", e.HandleUnknown)
	}
	if len(cols) == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "no columns", errors.ErrEmptyData)
	}
	if e.State == nil {
		e.State = model.NewStateManager()
	}

	nSamples := len(cols[0])
	e.Categories = make([][]string, len(cols))
	for j, col := range cols {
		if len(col) != nSamples {
			return errors.NewDimensionError("OneHotEncoder.Fit", nSamples, len(col), 0)
		}
		seen := make(map[string]struct{}, 8)
		for _, v := range col {
			seen[v] = struct{}{}
		}
		cats := make([]string, 0, len(seen))
		for v := range seen {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		e.Categories[j] = cats
	}
	e.lookup = nil
	e.lookup = e.index()

	e.State.SetDimensions(len(cols), nSamples)
	e.State.SetFitted()
	return nil
}

// NOutputs returns the total number of indicator columns.
func (e *OneHotEncoder) NOutputs() int {
	n := 0
	for _, c := range e.Categories {
		n += len(c)
	}
	return n
}

// gob で復元した後にも使えるよう、検索表は遅延構築する
func (e *OneHotEncoder) index() []map[string]int {
	if e.lookup != nil {
		return e.lookup
	}
	lookup := make([]map[string]int, len(e.Categories))
	for j, cats := range e.Categories {
		m := make(map[string]int, len(cats))
		for k, v := range cats {
			m[v] = k
		}
		lookup[j] = m
	}
	return lookup
}

// Transform は列を指示変数行列に変換する
func (e *OneHotEncoder) Transform(cols [][]string) (*mat.Dense, error) {
	if err := e.State.RequireFeatures("OneHotEncoder", "Transform", len(cols)); err != nil {
		return nil, err
	}
	nSamples := 0
	if len(cols) > 0 {
		nSamples = len(cols[0])
	}
	if nSamples == 0 {
		return nil, errors.NewModelError("OneHotEncoder.Transform", "no rows", errors.ErrEmptyData)
	}

	lookup := e.index()
	out := mat.NewDense(nSamples, e.NOutputs(), nil)
	offset := 0
	for j, col := range cols {
		if len(col) != nSamples {
			return nil, errors.NewDimensionError("OneHotEncoder.Transform", nSamples, len(col), 0)
		}
		for i, v := range col {
			k, ok := lookup[j][v]
			if !ok {
				if e.HandleUnknown == HandleUnknownError {
					return nil, errors.NewValueError("OneHotEncoder.Transform",
						fmt.Sprintf("found unknown category %q in column %d during transform", v, j))
				}
				continue
			}
			out.Set(i, offset+k, 1)
		}
		offset += len(e.Categories[j])
	}
	return out, nil
}

// FitTransform は学習と変換を同時に行う
func (e *OneHotEncoder) FitTransform(cols [][]string) (*mat.Dense, error) {
	if err := e.Fit(cols); err != nil {
		return nil, err
	}
	return e.Transform(cols)
}

// FeatureNames は出力列名を "<入力列名>_<カテゴリ>" の形式で返す
func (e *OneHotEncoder) FeatureNames(inputNames []string) []string {
	names := make([]string, 0, e.NOutputs())
	for j, cats := range e.Categories {
		prefix := fmt.Sprintf("x%d", j)
		if j < len(inputNames) {
			prefix = inputNames[j]
		}
		for _, c := range cats {
			names = append(names, prefix+"_"+c)
		}
	}
	return names
}

// GetParams はエンコーダのパラメータを取得する
func (e *OneHotEncoder) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"handle_unknown": e.HandleUnknown,
	}
}
