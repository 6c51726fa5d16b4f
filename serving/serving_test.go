package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/examscore/dataset"
	"github.com/YuminosukeSato/examscore/pkg/config"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
	"github.com/YuminosukeSato/examscore/sklearn/ensemble"
	"github.com/YuminosukeSato/examscore/sklearn/pipeline"
	"github.com/YuminosukeSato/examscore/tracking"
)

const sampleStudent = `{
	"age": 20, "gender": "Female", "study_hours_per_day": 4.5, "social_media_hours": 2.0,
	"netflix_hours": 1.5, "part_time_job": "No", "attendance_percentage": 85.0,
	"sleep_hours": 7.0, "diet_quality": "Good", "exercise_frequency": 3,
	"parental_education_level": "Bachelor", "internet_quality": "Good",
	"mental_health_rating": 8, "extracurricular_participation": "Yes"
}`

func studentFrame(n int, seed int64) *dataset.Frame {
	rng := rand.New(rand.NewSource(seed))
	pick := func(opts ...string) string { return opts[rng.Intn(len(opts))] }
	cols := map[string]*dataset.Column{}
	schema := dataset.DefaultSchema()
	for _, f := range schema.Features {
		cols[f.Name] = &dataset.Column{Name: f.Name, Kind: f.Kind}
	}
	target := &dataset.Column{Name: schema.Target, Kind: dataset.Numerical}
	for i := 0; i < n; i++ {
		study := rng.Float64() * 8
		sleep := 4 + rng.Float64()*5
		cols["age"].Floats = append(cols["age"].Floats, float64(17+rng.Intn(8)))
		cols["gender"].Strings = append(cols["gender"].Strings, pick("Female", "Male", "Other"))
		cols["study_hours_per_day"].Floats = append(cols["study_hours_per_day"].Floats, study)
		cols["social_media_hours"].Floats = append(cols["social_media_hours"].Floats, rng.Float64()*5)
		cols["netflix_hours"].Floats = append(cols["netflix_hours"].Floats, rng.Float64()*4)
		cols["part_time_job"].Strings = append(cols["part_time_job"].Strings, pick("Yes", "No"))
		cols["attendance_percentage"].Floats = append(cols["attendance_percentage"].Floats, 60+rng.Float64()*40)
		cols["sleep_hours"].Floats = append(cols["sleep_hours"].Floats, sleep)
		cols["diet_quality"].Strings = append(cols["diet_quality"].Strings, pick("Poor", "Fair", "Good"))
		cols["exercise_frequency"].Floats = append(cols["exercise_frequency"].Floats, float64(rng.Intn(7)))
		cols["parental_education_level"].Strings = append(cols["parental_education_level"].Strings, pick("High School", "Bachelor", "Master"))
		cols["internet_quality"].Strings = append(cols["internet_quality"].Strings, pick("Poor", "Average", "Good"))
		cols["mental_health_rating"].Floats = append(cols["mental_health_rating"].Floats, float64(1+rng.Intn(10)))
		cols["extracurricular_participation"].Strings = append(cols["extracurricular_participation"].Strings, pick("Yes", "No"))
		target.Floats = append(target.Floats, 30+8*study+2*sleep+rng.NormFloat64())
	}
	ordered := []*dataset.Column{}
	for _, f := range schema.Features {
		ordered = append(ordered, cols[f.Name])
	}
	frame, err := dataset.NewFrame(append(ordered, target)...)
	if err != nil {
		panic(err)
	}
	frame.Schema = schema
	return frame
}

func fittedPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	frame := studentFrame(80, 1)
	rf := ensemble.NewRandomForestRegressor(ensemble.WithNEstimators(10), ensemble.WithMaxDepth(4), ensemble.WithRandomState(42))
	p, err := pipeline.New(frame.Schema, rf)
	require.NoError(t, err)
	require.NoError(t, p.Fit(frame))
	return p
}

func newTestServer(t *testing.T, handle *Handle) (*httptest.Server, *log.TestLogger) {
	t.Helper()
	logger, _ := log.NewTestLogger(log.LevelDebug)
	ts := httptest.NewServer(NewServer(handle, logger).Handler())
	t.Cleanup(ts.Close)
	return ts, logger
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthBeforeAndAfterLoad(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["model_loaded"])

	handle, err := NewHandle("models:/m/None", fittedPipeline(t), 1)
	require.NoError(t, err)
	ts2, _ := newTestServer(t, handle)
	resp, err = http.Get(ts2.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, resp)["model_loaded"])
}

func TestPredict(t *testing.T) {
	p := fittedPipeline(t)
	handle, err := NewHandle("models:/m/None", p, 1)
	require.NoError(t, err)
	ts, logger := newTestServer(t, handle)

	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(sampleStudent))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)

	var f StudentFeatures
	require.NoError(t, json.Unmarshal([]byte(sampleStudent), &f))
	want, err := handle.Predict([]map[string]interface{}{f.Record()})
	require.NoError(t, err)
	assert.Equal(t, round2(want[0]), body["predicted_score"])

	input := body["input_features"].(map[string]interface{})
	assert.Equal(t, "Female", input["gender"])
	assert.Equal(t, 20.0, input["age"])
	assert.Eventually(t, func() bool { return logger.ContainsMessage("request") }, time.Second, 10*time.Millisecond)
}

func TestPredictZeroValuesAccepted(t *testing.T) {
	handle, err := NewHandle("file", fittedPipeline(t), 0)
	require.NoError(t, err)
	ts, _ := newTestServer(t, handle)

	body := strings.Replace(sampleStudent, `"netflix_hours": 1.5`, `"netflix_hours": 0`, 1)
	body = strings.Replace(body, `"gender": "Female"`, `"gender": ""`, 1)
	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPredictAcceptsIntegralFloats(t *testing.T) {
	handle, err := NewHandle("file", fittedPipeline(t), 0)
	require.NoError(t, err)
	ts, _ := newTestServer(t, handle)

	body := strings.Replace(sampleStudent, `"age": 20`, `"age": 20.0`, 1)
	body = strings.Replace(body, `"mental_health_rating": 8`, `"mental_health_rating": 8.0`, 1)
	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	input := decode(t, resp)["input_features"].(map[string]interface{})
	assert.Equal(t, 20.0, input["age"])
}

func TestPredictClientErrors(t *testing.T) {
	handle, err := NewHandle("file", fittedPipeline(t), 0)
	require.NoError(t, err)
	ts, _ := newTestServer(t, handle)

	missing := strings.Replace(sampleStudent, `"gender": "Female",`, "", 1)
	wrongType := strings.Replace(sampleStudent, `"age": 20`, `"age": "twenty"`, 1)
	fractional := strings.Replace(sampleStudent, `"age": 20`, `"age": 20.5`, 1)

	tests := []struct {
		name   string
		body   string
		code   int
		detail string
	}{
		{"missing field", missing, http.StatusUnprocessableEntity, "field 'gender' is required"},
		{"empty object", "{}", http.StatusUnprocessableEntity, "field 'age' is required"},
		{"wrong type", wrongType, http.StatusUnprocessableEntity, "age"},
		{"malformed json", `{"age": 20,`, http.StatusBadRequest, "malformed JSON"},
		{"array body", `[]`, http.StatusUnprocessableEntity, "request body must be a JSON object"},
		{"fractional integer", fractional, http.StatusUnprocessableEntity, "field 'age' must be an integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Contains(t, decode(t, resp)["detail"], tt.detail)
		})
	}

	// サーバは引き続き応答する
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPredictWithoutModel(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(sampleStudent))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "model is not loaded", decode(t, resp)["detail"])
}

func TestRootMethodAndNotFound(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Contains(t, body["endpoints"], "/predict")

	resp, err = http.Get(ts.URL + "/predict")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	handle, err := NewHandle("file", fittedPipeline(t), 0)
	require.NoError(t, err)
	ts, _ := newTestServer(t, handle)

	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(sampleStudent))
	require.NoError(t, err)
	resp.Body.Close()

	scrape := func() string {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(data)
	}
	assert.Eventually(t, func() bool {
		return strings.Contains(scrape(), `examscore_http_requests_total{code="200",method="POST",path="/predict"} 1`)
	}, time.Second, 10*time.Millisecond)
	text := scrape()
	assert.Contains(t, text, "examscore_predictions_total 1")
	assert.Contains(t, text, "examscore_model_loaded 1")
}

func TestLoadHandle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := tracking.Open(filepath.Join(dir, "mlruns.db"), filepath.Join(dir, "mlruns"), tracking.WithLogger(log.Nop()))
	require.NoError(t, err)
	defer store.Close()

	_, err = LoadHandle(ctx, store, "student-score-regressor", "None")
	assert.True(t, errors.Is(err, errors.ErrModelUnavailable))

	exp, err := store.GetOrCreateExperiment(ctx, "exp")
	require.NoError(t, err)
	run, err := store.StartRun(ctx, exp)
	require.NoError(t, err)
	uri, err := run.LogModel("student_model", fittedPipeline(t))
	require.NoError(t, err)
	require.NoError(t, run.End(ctx, tracking.RunFinished))
	_, err = store.RegisterModel(ctx, "student-score-regressor", uri)
	require.NoError(t, err)

	handle, err := LoadHandle(ctx, store, "student-score-regressor", "None")
	require.NoError(t, err)
	assert.Equal(t, 1, handle.Version())
	assert.Equal(t, "models:/student-score-regressor/None", handle.URI())
	assert.Equal(t, "student_habits/v1", handle.Schema())
}

func TestNewHandleRejectsUnfitted(t *testing.T) {
	p, err := pipeline.New(dataset.DefaultSchema(), ensemble.NewRandomForestRegressor())
	require.NoError(t, err)
	_, err = NewHandle("x", p, 0)
	assert.True(t, errors.Is(err, errors.ErrModelUnavailable))
}

// withSchema returns a copy of p that claims to be trained on schema.
func withSchema(p *pipeline.Pipeline, edit func(s *dataset.Schema)) *pipeline.Pipeline {
	schema := *p.Schema
	schema.Features = append([]dataset.Field(nil), p.Schema.Features...)
	edit(&schema)
	cp := *p
	cp.Schema = &schema
	return &cp
}

func TestNewHandleRejectsSchemaMismatch(t *testing.T) {
	p := fittedPipeline(t)

	tests := []struct {
		name   string
		edit   func(s *dataset.Schema)
		column string
	}{
		{"extra feature", func(s *dataset.Schema) {
			s.Features = append(s.Features, dataset.Field{Name: "hometown", Kind: dataset.Categorical})
		}, "hometown"},
		{"kind differs", func(s *dataset.Schema) {
			s.Features[0] = dataset.Field{Name: "age", Kind: dataset.Categorical}
		}, "age"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHandle("models:/m/Production", withSchema(p, tt.edit), 1)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrSchemaMismatch))
			var dataErr *errors.DataError
			require.True(t, errors.As(err, &dataErr))
			assert.Equal(t, tt.column, dataErr.Column)
			assert.Equal(t, "models:/m/Production", dataErr.Source)
		})
	}

	// 学習時の特徴量がリクエストの部分集合であれば受け付ける
	subset := withSchema(p, func(s *dataset.Schema) { s.Features = s.Features[:3] })
	_, err := NewHandle("file", subset, 0)
	assert.NoError(t, err)
}

func TestLoadHandleUsesResolvedVersion(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := tracking.Open(filepath.Join(dir, "mlruns.db"), filepath.Join(dir, "mlruns"), tracking.WithLogger(log.Nop()))
	require.NoError(t, err)
	defer store.Close()
	exp, err := store.GetOrCreateExperiment(ctx, "exp")
	require.NoError(t, err)

	register := func(p *pipeline.Pipeline) *tracking.ModelVersion {
		run, err := store.StartRun(ctx, exp)
		require.NoError(t, err)
		uri, err := run.LogModel("student_model", p)
		require.NoError(t, err)
		require.NoError(t, run.End(ctx, tracking.RunFinished))
		mv, err := store.RegisterModel(ctx, "student-score-regressor", uri)
		require.NoError(t, err)
		return mv
	}

	first := fittedPipeline(t)
	frame := studentFrame(60, 7)
	second, err := pipeline.New(frame.Schema, ensemble.NewRandomForestRegressor(ensemble.WithNEstimators(3), ensemble.WithMaxDepth(2), ensemble.WithRandomState(7)))
	require.NoError(t, err)
	require.NoError(t, second.Fit(frame))

	register(first)
	v2 := register(second)
	_, err = store.TransitionModelVersionStage(ctx, "student-score-regressor", v2.Version, tracking.StageProduction, false)
	require.NoError(t, err)

	handle, err := LoadHandle(ctx, store, "student-score-regressor", "Production")
	require.NoError(t, err)
	assert.Equal(t, 2, handle.Version())

	rec := ExampleStudent().Record()
	got, err := handle.Predict([]map[string]interface{}{rec})
	require.NoError(t, err)
	want, err := second.PredictRecords([]map[string]interface{}{rec})
	require.NoError(t, err)
	assert.InDelta(t, want.AtVec(0), got[0], 1e-12)
}

func TestLoadHandleRejectsMismatchedModel(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := tracking.Open(filepath.Join(dir, "mlruns.db"), filepath.Join(dir, "mlruns"), tracking.WithLogger(log.Nop()))
	require.NoError(t, err)
	defer store.Close()
	exp, err := store.GetOrCreateExperiment(ctx, "exp")
	require.NoError(t, err)

	p := withSchema(fittedPipeline(t), func(s *dataset.Schema) {
		s.Features = append(s.Features, dataset.Field{Name: "hometown", Kind: dataset.Categorical})
	})
	run, err := store.StartRun(ctx, exp)
	require.NoError(t, err)
	uri, err := run.LogModel("student_model", p)
	require.NoError(t, err)
	require.NoError(t, run.End(ctx, tracking.RunFinished))
	_, err = store.RegisterModel(ctx, "student-score-regressor", uri)
	require.NoError(t, err)

	_, err = LoadHandle(ctx, store, "student-score-regressor", "None")
	assert.True(t, errors.Is(err, errors.ErrSchemaMismatch), "got %v", err)
}

func TestGateway(t *testing.T) {
	handle, err := NewHandle("file", fittedPipeline(t), 0)
	require.NoError(t, err)
	api, _ := newTestServer(t, handle)

	gw := NewGateway(config.Gateway{Upstream: api.URL, Timeout: 5 * time.Second}, log.Nop())
	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	text, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(text), "Welcome")

	resp, err = http.Post(ts.URL+"/predict", "application/json", strings.NewReader(sampleStudent))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	pred := body["prediction"].(map[string]interface{})
	assert.Contains(t, pred, "predicted_score")

	resp, err = http.Post(ts.URL+"/predict", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body = decode(t, resp)
	assert.Equal(t, "prediction failed", body["error"])
	assert.Contains(t, body["details"].(map[string]interface{})["detail"], "is required")
}

func TestGatewayUpstreamDown(t *testing.T) {
	gw := NewGateway(config.Gateway{Upstream: "http://127.0.0.1:1", Timeout: time.Second}, log.Nop())
	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(sampleStudent))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "prediction failed", body["error"])
	assert.NotEmpty(t, body["details"])
}

func TestServerRunShutsDown(t *testing.T) {
	cfg := config.Default().Server
	cfg.Addr = "127.0.0.1:0"
	srv := NewServer(nil, log.Nop(), WithConfig(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestExampleStudentIsValid(t *testing.T) {
	f := ExampleStudent()
	require.NoError(t, f.Validate())
	rec := f.Record()
	assert.Len(t, rec, 14)
	assert.Equal(t, 20, rec["age"])
	assert.Equal(t, "Female", rec["gender"])
}
