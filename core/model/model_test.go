package model

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/examscore/pkg/errors"
)

type savedEstimator struct {
	State   *StateManager
	Weights []float64
	Name    string
}

func TestStateManagerRequireFitted(t *testing.T) {
	s := NewStateManager()
	err := s.RequireFitted("Forest", "Predict")
	require.Error(t, err)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	s.SetFitted()
	s.SetDimensions(3, 10)
	assert.NoError(t, s.RequireFitted("Forest", "Predict"))
	assert.NoError(t, s.RequireFeatures("Forest", "Predict", 3))

	err = s.RequireFeatures("Forest", "Predict", 4)
	var dim *errors.DimensionError
	require.True(t, errors.As(err, &dim))
	assert.Equal(t, 3, dim.Expected)
	assert.Equal(t, 4, dim.Got)

	s.Reset()
	assert.False(t, s.IsFitted())
	assert.Equal(t, ModelState{}, s.GetState())
}

func TestSaveLoadModelFile(t *testing.T) {
	st := NewStateManager()
	st.SetFitted()
	st.SetDimensions(2, 5)
	in := &savedEstimator{State: st, Weights: []float64{1.5, -2}, Name: "toy"}

	path := filepath.Join(t.TempDir(), "nested", "model.gob")
	require.NoError(t, SaveModel(in, path))

	var out savedEstimator
	require.NoError(t, LoadModel(&out, path))
	assert.Equal(t, in.Weights, out.Weights)
	assert.Equal(t, "toy", out.Name)
	assert.True(t, out.State.IsFitted())
	nf, ns := out.State.GetDimensions()
	assert.Equal(t, 2, nf)
	assert.Equal(t, 5, ns)
}

func TestLoadModelErrors(t *testing.T) {
	var out savedEstimator
	assert.Error(t, LoadModel(&out, filepath.Join(t.TempDir(), "missing.gob")))
	assert.Error(t, LoadModelFromReader(&out, bytes.NewBufferString("not gob")))
}
