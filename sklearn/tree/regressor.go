// Package tree は CART 回帰木を提供します。
//
// 分割基準は二乗誤差（分散の減少）で、閾値は隣接する異なる値の中点です。
// ノードはフラットなスライスに保存されるため、gob でそのまま永続化できます。
package tree

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/examscore/core/model"
	"github.com/YuminosukeSato/examscore/metrics"
	"github.com/YuminosukeSato/examscore/pkg/errors"
)

// Leaf marks a node without a split.
const Leaf = -1

// Node は木の1ノードです。Feature が Leaf の場合は葉ノードで Value が予測値になります。
// 内部ノードでは x[Feature] <= Threshold なら Left、そうでなければ Right へ進みます。
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	NSamples  int
	Impurity  float64
}

// IsLeaf reports whether the node is terminal.
func (n *Node) IsLeaf() bool { return n.Feature == Leaf }

// DecisionTreeRegressor は CART 回帰木
type DecisionTreeRegressor struct {
	State *model.StateManager

	// ハイパーパラメータ
	MaxDepth            int     // 0 は無制限
	MinSamplesSplit     int     // 分割を試みる最小サンプル数
	MinSamplesLeaf      int     // 各葉の最小サンプル数
	MaxFeatures         int     // 0 はすべての特徴量
	MinImpurityDecrease float64 // 分割を採用する最小の不純度減少
	RandomState         int64   // 特徴量の探索順序のシード

	// 学習結果
	Nodes       []Node
	Importances []float64 // 正規化前の不純度減少の合計（特徴量ごと）
	Depth       int
}

// Option は DecisionTreeRegressor の設定関数
type Option func(*DecisionTreeRegressor)

func WithMaxDepth(d int) Option { return func(t *DecisionTreeRegressor) { t.MaxDepth = d } }

func WithMinSamplesSplit(n int) Option {
	return func(t *DecisionTreeRegressor) { t.MinSamplesSplit = n }
}

func WithMinSamplesLeaf(n int) Option {
	return func(t *DecisionTreeRegressor) { t.MinSamplesLeaf = n }
}

func WithMaxFeatures(k int) Option { return func(t *DecisionTreeRegressor) { t.MaxFeatures = k } }

func WithMinImpurityDecrease(v float64) Option {
	return func(t *DecisionTreeRegressor) { t.MinImpurityDecrease = v }
}

func WithRandomState(seed int64) Option {
	return func(t *DecisionTreeRegressor) { t.RandomState = seed }
}

// NewDecisionTreeRegressor は新しい回帰木を作成する
//
// 使用例:
//
//	dt := tree.NewDecisionTreeRegressor(tree.WithMaxDepth(5), tree.WithRandomState(42))
//	err := dt.Fit(X, y)
//	pred, err := dt.Predict(XTest)
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	t := &DecisionTreeRegressor{
		State:           model.NewStateManager(),
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// IsFitted reports whether Fit has completed.
func (t *DecisionTreeRegressor) IsFitted() bool {
	return t.State != nil && t.State.IsFitted()
}

func (t *DecisionTreeRegressor) validateParams() error {
	if t.MaxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be >= 0", t.MaxDepth)
	}
	if t.MinSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", t.MinSamplesSplit)
	}
	if t.MinSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", t.MinSamplesLeaf)
	}
	if t.MaxFeatures < 0 {
		return errors.NewValidationError("max_features", "must be >= 0", t.MaxFeatures)
	}
	return nil
}

// Fit は全サンプルで木を学習する
func (t *DecisionTreeRegressor) Fit(X mat.Matrix, y mat.Vector) error {
	r, _ := X.Dims()
	idx := make([]int, r)
	for i := range idx {
		idx[i] = i
	}
	return t.FitIndexed(X, y, idx)
}

// FitIndexed は indices で指定したサンプル（重複可）で木を学習する
// ランダムフォレストのブートストラップ標本に使う
func (t *DecisionTreeRegressor) FitIndexed(X mat.Matrix, y mat.Vector, indices []int) (err error) {
	defer errors.Recover(&err, "DecisionTreeRegressor.Fit")

	if err := t.validateParams(); err != nil {
		return err
	}
	r, c := X.Dims()
	if r == 0 || c == 0 || len(indices) == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if y.Len() != r {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", r, y.Len(), 0)
	}
	for _, i := range indices {
		if i < 0 || i >= r {
			return errors.NewValueError("DecisionTreeRegressor.Fit", fmt.Sprintf("sample index %d out of range", i))
		}
	}
	if t.State == nil {
		t.State = model.NewStateManager()
	}
	t.State.Reset()

	b := &builder{
		tree: t,
		cols: make([][]float64, c),
		y:    make([]float64, r),
		rnd:  rand.New(rand.NewSource(t.RandomState)),
	}
	for j := 0; j < c; j++ {
		b.cols[j] = mat.Col(nil, j, X)
	}
	for i := 0; i < r; i++ {
		b.y[i] = y.AtVec(i)
	}

	t.Nodes = t.Nodes[:0]
	t.Importances = make([]float64, c)
	t.Depth = 0

	work := append([]int(nil), indices...)
	b.build(work, 0)

	t.State.SetDimensions(c, len(indices))
	t.State.SetFitted()
	return nil
}

// builder は学習中のみ使う作業領域
type builder struct {
	tree *DecisionTreeRegressor
	cols [][]float64
	y    []float64
	rnd  *rand.Rand
}

type split struct {
	feature   int
	threshold float64
	pos       int // 並べ替え後の idx で左側に入る要素数
	score     float64
}

// build は idx のサンプルでノードを作り、そのインデックスを返す
func (b *builder) build(idx []int, depth int) int {
	t := b.tree
	n := len(idx)

	var sum, sumSq float64
	for _, i := range idx {
		sum += b.y[i]
		sumSq += b.y[i] * b.y[i]
	}
	mean := sum / float64(n)
	impurity := math.Max(sumSq/float64(n)-mean*mean, 0)

	self := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{
		Feature:  Leaf,
		Left:     Leaf,
		Right:    Leaf,
		Value:    mean,
		NSamples: n,
		Impurity: impurity,
	})
	if depth > t.Depth {
		t.Depth = depth
	}

	if (t.MaxDepth > 0 && depth >= t.MaxDepth) ||
		n < t.MinSamplesSplit ||
		n < 2*t.MinSamplesLeaf ||
		impurity <= 1e-12 {
		return self
	}

	best, ok := b.bestSplit(idx, sum)
	if !ok {
		return self
	}

	// 不純度の減少量（サンプル数で重み付け）
	parentSSE := impurity * float64(n)
	childSSE := sumSq - best.score
	decrease := parentSSE - childSSE
	if decrease < t.MinImpurityDecrease*float64(n) {
		return self
	}

	col := b.cols[best.feature]
	sort.Slice(idx, func(a, c int) bool { return col[idx[a]] < col[idx[c]] })
	left := idx[:best.pos]
	right := idx[best.pos:]

	t.Importances[best.feature] += decrease

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)

	node := &t.Nodes[self]
	node.Feature = best.feature
	node.Threshold = best.threshold
	node.Left = l
	node.Right = r
	return self
}

// bestSplit は sumL²/nL + sumR²/nR を最大にする分割を探す
// これは左右の二乗誤差の合計を最小にすることと同値
func (b *builder) bestSplit(idx []int, total float64) (split, bool) {
	t := b.tree
	n := len(idx)
	nFeatures := len(b.cols)

	features := b.rnd.Perm(nFeatures)
	limit := nFeatures
	if t.MaxFeatures > 0 && t.MaxFeatures < nFeatures {
		limit = t.MaxFeatures
	}

	best := split{score: math.Inf(-1)}
	found := false
	order := make([]int, n)

	for k, f := range features {
		// max_features 個を調べても分割が見つからない場合は残りも調べる
		if k >= limit && found {
			break
		}
		col := b.cols[f]
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool { return col[order[a]] < col[order[c]] })

		var sumL float64
		for i := 1; i < n; i++ {
			sumL += b.y[order[i-1]]
			if i < t.MinSamplesLeaf || n-i < t.MinSamplesLeaf {
				continue
			}
			lo, hi := col[order[i-1]], col[order[i]]
			if lo >= hi {
				continue
			}
			sumR := total - sumL
			score := sumL*sumL/float64(i) + sumR*sumR/float64(n-i)
			if score > best.score+1e-12 {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				best = split{feature: f, threshold: threshold, pos: i, score: score}
				found = true
			}
		}
	}
	return best, found
}

// PredictRow は1行分の特徴量に対する予測値を返す
func (t *DecisionTreeRegressor) PredictRow(x []float64) float64 {
	i := 0
	for {
		node := &t.Nodes[i]
		if node.IsLeaf() {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// Predict は各行の予測値を返す
func (t *DecisionTreeRegressor) Predict(X mat.Matrix) (*mat.VecDense, error) {
	r, c := X.Dims()
	if err := t.State.RequireFeatures("DecisionTreeRegressor", "Predict", c); err != nil {
		return nil, err
	}
	out := mat.NewVecDense(r, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out.SetVec(i, t.PredictRow(row))
	}
	return out, nil
}

// Score は決定係数 R² を返す
func (t *DecisionTreeRegressor) Score(X mat.Matrix, y mat.Vector) (float64, error) {
	pred, err := t.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(y, pred)
}

// FeatureImportances は不純度減少に基づく特徴量重要度（合計1）を返す
func (t *DecisionTreeRegressor) FeatureImportances() ([]float64, error) {
	if err := t.State.RequireFitted("DecisionTreeRegressor", "FeatureImportances"); err != nil {
		return nil, err
	}
	out := make([]float64, len(t.Importances))
	var total float64
	for _, v := range t.Importances {
		total += v
	}
	if total == 0 {
		return out, nil
	}
	for i, v := range t.Importances {
		out[i] = v / total
	}
	return out, nil
}

// NLeaves returns the number of leaves.
func (t *DecisionTreeRegressor) NLeaves() int {
	n := 0
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}

// GetParams はハイパーパラメータを返す
func (t *DecisionTreeRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"max_depth":             t.MaxDepth,
		"min_samples_split":     t.MinSamplesSplit,
		"min_samples_leaf":      t.MinSamplesLeaf,
		"max_features":          t.MaxFeatures,
		"min_impurity_decrease": t.MinImpurityDecrease,
		"random_state":          t.RandomState,
	}
}

var _ model.Regressor = (*DecisionTreeRegressor)(nil)
