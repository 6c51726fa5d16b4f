package ensemble

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/examscore/core/model"
	"github.com/YuminosukeSato/examscore/pkg/errors"
)

func makeRegression(n int, seed int64) (*mat.Dense, *mat.VecDense) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, 4, nil)
	y := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		hours := rng.Float64() * 8
		sleep := 4 + rng.Float64()*5
		X.Set(i, 0, hours)
		X.Set(i, 1, sleep)
		X.Set(i, 2, float64(rng.Intn(2)))
		X.Set(i, 3, rng.Float64())
		y.SetVec(i, 30+8*hours+2*sleep+5*X.At(i, 2)+rng.NormFloat64())
	}
	return X, y
}

func TestRandomForestRegressor_Deterministic(t *testing.T) {
	X, y := makeRegression(150, 1)

	fit := func(seed int64) *mat.VecDense {
		rf := NewRandomForestRegressor(WithNEstimators(20), WithMaxDepth(5), WithRandomState(seed))
		require.NoError(t, rf.Fit(X, y))
		pred, err := rf.Predict(X)
		require.NoError(t, err)
		return pred
	}

	a := fit(42)
	b := fit(42)
	assert.Equal(t, a.RawVector().Data, b.RawVector().Data)

	c := fit(7)
	assert.NotEqual(t, a.RawVector().Data, c.RawVector().Data)
}

func TestRandomForestRegressor_Quality(t *testing.T) {
	XTrain, yTrain := makeRegression(300, 2)
	XTest, yTest := makeRegression(100, 3)

	rf := NewRandomForestRegressor(WithNEstimators(30), WithMaxDepth(8), WithRandomState(42))
	require.NoError(t, rf.Fit(XTrain, yTrain))

	score, err := rf.Score(XTest, yTest)
	require.NoError(t, err)
	assert.Greater(t, score, 0.85)

	imp, err := rf.FeatureImportances()
	require.NoError(t, err)
	require.Len(t, imp, 4)
	// study hours dominate the target
	assert.Greater(t, imp[0], imp[1])
	assert.Greater(t, imp[0], imp[3])
	assert.Len(t, rf.Estimators, 30)
}

func TestRandomForestRegressor_ParallelPredictMatchesRowwise(t *testing.T) {
	X, y := makeRegression(600, 4)
	rf := NewRandomForestRegressor(WithNEstimators(5), WithMaxDepth(4), WithRandomState(1))
	require.NoError(t, rf.Fit(X, y))

	batch, err := rf.Predict(X)
	require.NoError(t, err)
	for _, i := range []int{0, 255, 256, 599} {
		one, err := rf.Predict(X.Slice(i, i+1, 0, 4))
		require.NoError(t, err)
		assert.Equal(t, one.AtVec(0), batch.AtVec(i))
	}
}

func TestRandomForestRegressor_ConcurrentPredict(t *testing.T) {
	X, y := makeRegression(80, 5)
	rf := NewRandomForestRegressor(WithNEstimators(10), WithRandomState(9))
	require.NoError(t, rf.Fit(X, y))
	want, err := rf.Predict(X)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := rf.Predict(X)
			assert.NoError(t, err)
			assert.Equal(t, want.RawVector().Data, got.RawVector().Data)
		}()
	}
	wg.Wait()
}

func TestRandomForestRegressor_Errors(t *testing.T) {
	rf := NewRandomForestRegressor()
	_, err := rf.Predict(mat.NewDense(1, 4, nil))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	err = NewRandomForestRegressor(WithNEstimators(0)).Fit(mat.NewDense(2, 1, nil), mat.NewVecDense(2, nil))
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	err = NewRandomForestRegressor(WithMaxDepth(-1)).Fit(mat.NewDense(2, 1, nil), mat.NewVecDense(2, nil))
	assert.True(t, errors.As(err, &ve))

	X, y := makeRegression(20, 6)
	rf = NewRandomForestRegressor(WithNEstimators(3))
	require.NoError(t, rf.Fit(X, y))
	_, err = rf.Predict(mat.NewDense(1, 2, nil))
	var dim *errors.DimensionError
	assert.True(t, errors.As(err, &dim))
}

func TestRandomForestRegressor_GetParamsAndGob(t *testing.T) {
	X, y := makeRegression(50, 8)
	rf := NewRandomForestRegressor(WithNEstimators(4), WithMaxDepth(3), WithRandomState(42), WithBootstrap(false))
	require.NoError(t, rf.Fit(X, y))

	params := rf.GetParams()
	assert.Equal(t, 4, params["n_estimators"])
	assert.Equal(t, 3, params["max_depth"])
	assert.Equal(t, int64(42), params["random_state"])
	assert.Equal(t, false, params["bootstrap"])

	var buf bytes.Buffer
	require.NoError(t, model.SaveModelToWriter(rf, &buf))
	var restored RandomForestRegressor
	require.NoError(t, model.LoadModelFromReader(&restored, &buf))

	want, err := rf.Predict(X)
	require.NoError(t, err)
	got, err := restored.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, want.RawVector().Data, got.RawVector().Data)
}
