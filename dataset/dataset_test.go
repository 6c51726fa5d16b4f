package dataset

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
)

func TestDefaultSchema(t *testing.T) {
	s := DefaultSchema()
	assert.Equal(t, "student_habits/v1", s.String())
	assert.Equal(t, "student_id", s.ID)
	assert.Equal(t, "exam_score", s.Target)
	assert.Len(t, s.Features, 14)

	cat, num := Partition(s, s.Target)
	assert.Equal(t, []string{
		"gender", "part_time_job", "diet_quality",
		"parental_education_level", "internet_quality", "extracurricular_participation",
	}, cat)
	assert.Equal(t, []string{
		"age", "study_hours_per_day", "social_media_hours", "netflix_hours",
		"attendance_percentage", "sleep_hours", "exercise_frequency", "mental_health_rating",
	}, num)
}

func TestParseSchemaValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing version", "target: y\nfeatures:\n  - {name: a, kind: numerical}\n"},
		{"missing target", "version: 1\nfeatures:\n  - {name: a, kind: numerical}\n"},
		{"no features", "version: 1\ntarget: y\n"},
		{"duplicate", "version: 1\ntarget: y\nfeatures:\n  - {name: a, kind: numerical}\n  - {name: a, kind: categorical}\n"},
		{"target as feature", "version: 1\ntarget: y\nfeatures:\n  - {name: y, kind: numerical}\n"},
		{"bad kind", "version: 1\ntarget: y\nfeatures:\n  - {name: a, kind: text}\n"},
		{"numeric categories", "version: 1\ntarget: y\nfeatures:\n  - {name: a, kind: numerical, categories: [x]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchema([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadCSVWithSidecarSchema(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)

	frame, err := LoadCSV(filepath.Join("testdata", "toy.csv"), nil, logger)
	require.NoError(t, err)

	assert.Equal(t, "toy/v1", frame.Schema.String())
	assert.False(t, frame.Schema.Inferred)
	assert.Equal(t, 10, frame.NRows())
	assert.Equal(t, []string{"student_id", "gender", "diet_quality", "study_hours_per_day", "sleep_hours", "exam_score"}, frame.Names())

	y, err := frame.Target("exam_score")
	require.NoError(t, err)
	assert.InDelta(t, 82.1, y.AtVec(0), 1e-12)

	gender, err := frame.Column("gender")
	require.NoError(t, err)
	assert.Equal(t, Categorical, gender.Kind)
	assert.Equal(t, "Male", gender.Strings[1])

	assert.True(t, logger.ContainsMessage("Dataset loaded"))
	assert.True(t, logger.ContainsField(log.SamplesKey, 10.0))
}

func TestLoadCSVInfersSchemaWithWarning(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	var warned []error
	errors.SetZerologWarnFunc(func(w error) { warned = append(warned, w) })
	defer errors.SetZerologWarnFunc(nil)

	frame, err := LoadCSV(filepath.Join("testdata", "noschema.csv"), nil, logger)
	require.NoError(t, err)
	require.True(t, frame.Schema.Inferred)

	cat, num := Partition(frame.Schema, "exam_score")
	// "level" has one non-numeric cell, so the whole column is categorical.
	assert.Equal(t, []string{"gender", "level"}, cat)
	assert.Equal(t, []string{"age"}, num)

	require.Len(t, warned, 1)
	var w *errors.SchemaInferredWarning
	assert.True(t, errors.As(warned[0], &w))
	assert.Len(t, logger.EntriesAt(log.LevelWarn), 1)
}

func TestReadCSVErrors(t *testing.T) {
	schema, err := ParseSchema([]byte(`
version: 1
id: student_id
target: exam_score
features:
  - {name: age, kind: numerical}
  - {name: gender, kind: categorical, categories: [Female, Male]}
`))
	require.NoError(t, err)

	tests := []struct {
		name   string
		csv    string
		column string
		row    int
	}{
		{"missing column", "student_id,age,exam_score\nS1,20,70\n", "gender", 0},
		{"bad number", "student_id,age,gender,exam_score\nS1,20,Male,70\nS2,twenty,Male,60\n", "age", 3},
		{"undeclared category", "student_id,age,gender,exam_score\nS1,20,Other,70\n", "gender", 2},
		{"missing target", "student_id,age,gender\nS1,20,Male\n", "exam_score", 0},
		{"header only", "student_id,age,gender,exam_score\n", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.csv), "inline.csv", schema)
			require.Error(t, err)
			var de *errors.DataError
			require.True(t, errors.As(err, &de), "expected DataError, got %v", err)
			assert.Equal(t, tt.column, de.Column)
			assert.Equal(t, tt.row, de.Row)
		})
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "nope.csv"), DefaultSchema(), log.Nop())
	var de *errors.DataError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "cannot open dataset", de.Reason)
}

func TestFrameTake(t *testing.T) {
	f, err := NewFrame(
		StringColumn("g", "a", "b", "c"),
		FloatColumn("x", 1, 2, 3),
	)
	require.NoError(t, err)

	sub, err := f.Take([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, sub.NRows())
	g, _ := sub.Column("g")
	x, _ := sub.Column("x")
	assert.Equal(t, []string{"c", "a"}, g.Strings)
	assert.Equal(t, []float64{3, 1}, x.Floats)
	assert.Equal(t, map[string]interface{}{"g": "c", "x": 3.0}, sub.Row(0))

	_, err = f.Take([]int{3})
	assert.Error(t, err)

	_, err = NewFrame(StringColumn("g", "a"), FloatColumn("x", 1, 2))
	assert.Error(t, err)
}

func TestFrameFromRecords(t *testing.T) {
	schema := DefaultSchema()
	rec := map[string]interface{}{
		"age": 20, "gender": "Female", "study_hours_per_day": 4.5,
		"social_media_hours": 2.0, "netflix_hours": 1.5, "part_time_job": "No",
		"attendance_percentage": 85.0, "sleep_hours": 7.0, "diet_quality": "Good",
		"exercise_frequency": 3, "parental_education_level": "Bachelor",
		"internet_quality": "Good", "mental_health_rating": 8,
		"extracurricular_participation": "Yes",
	}
	f, err := FrameFromRecords(schema, []map[string]interface{}{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, f.NRows())
	assert.Equal(t, schema.FeatureNames(), f.Names())
	age, _ := f.Column("age")
	assert.Equal(t, []float64{20}, age.Floats)

	delete(rec, "gender")
	_, err = FrameFromRecords(schema, []map[string]interface{}{rec})
	var de *errors.DataError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "gender", de.Column)

	rec["gender"] = 1
	_, err = FrameFromRecords(schema, []map[string]interface{}{rec})
	assert.True(t, errors.Is(err, errors.ErrSchemaMismatch))
}
