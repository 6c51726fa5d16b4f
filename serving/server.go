// Package serving は学習済みモデルを HTTP で公開する推論 API と、その前段のゲートウェイを提供します。
//
// モデルは起動時に LoadHandle で一度だけ読み込まれ、不変の Handle として
// サーバに渡されます。読み込みに失敗した場合、サーバは起動しません。
package serving

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YuminosukeSato/examscore/pkg/config"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
)

// maxBodyBytes limits request bodies.
const maxBodyBytes = 1 << 20

// Handler は1ルートの処理です。戻り値はそのまま JSON で返されます。
type Handler func(r *http.Request) (interface{}, int, error)

// Route binds a method and path to a handler.
type Route struct {
	Method string
	Path   string
	Exec   Handler
}

// apiError は HTTP ステータスと {"detail": ...} で返すメッセージを持つエラー
type apiError struct {
	code   int
	detail string
}

func (e *apiError) Error() string { return e.detail }

// Server is the prediction API.
type Server struct {
	handle  *Handle
	logger  log.Logger
	cfg     config.Server
	metrics *Metrics
	mux     *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithConfig sets the listen address and timeouts.
func WithConfig(cfg config.Server) Option { return func(s *Server) { s.cfg = cfg } }

// WithRegistry registers metrics with reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.metrics = NewMetrics(reg) }
}

// NewServer はルートを登録したサーバを作成する
// handle が nil の場合、/health は model_loaded:false を返し /predict は 503 になる
func NewServer(handle *Handle, logger log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.GetLoggerWithName("serving")
	}
	s := &Server{
		handle: handle,
		logger: logger,
		cfg:    config.Default().Server,
		mux:    http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if handle != nil {
		s.metrics.ModelLoaded.Set(1)
	}

	for _, route := range []Route{
		{Method: http.MethodGet, Path: "/health", Exec: s.health},
		{Method: http.MethodPost, Path: "/predict", Exec: s.predict},
	} {
		s.mux.Handle(route.Path, s.instrument(route.Path, s.handleRoute(route)))
	}
	s.mux.Handle("/metrics", s.metrics.Handler())
	// "/" はすべての未登録パスにマッチするため、パスが完全一致する場合だけ応答する
	s.mux.Handle("/", s.instrument("/", s.handleRoute(Route{Method: http.MethodGet, Path: "/", Exec: s.root})))
	return s
}

// Handler returns the HTTP handler with request logging.
func (s *Server) Handler() http.Handler {
	return requestLog(s.logger, s.mux)
}

// Run は ctx がキャンセルされるまでサーバを動かし、その後グレースフルに停止する
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	attrs := []any{log.HTTPPathKey, s.cfg.Addr}
	if s.handle != nil {
		attrs = append(attrs, log.ModelURIKey, s.handle.URI())
	}
	s.logger.Info("Starting prediction server", attrs...)
	return serve(ctx, srv, s.logger, s.cfg.ShutdownTimeout)
}

func (s *Server) handleRoute(route Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != route.Path {
			writeJSON(w, s.logger, http.StatusNotFound, map[string]string{"detail": "Not Found"})
			return
		}
		if r.Method != route.Method {
			w.Header().Set("Allow", route.Method)
			writeJSON(w, s.logger, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
			return
		}
		body, code, err := route.Exec(r)
		if err != nil {
			s.error(w, r, err)
			return
		}
		writeJSON(w, s.logger, code, body)
	})
}

func (s *Server) error(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	detail := err.Error()
	var ae *apiError
	if errors.As(err, &ae) {
		code = ae.code
		detail = ae.detail
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", err, log.HTTPPathKey, r.URL.Path, log.HTTPStatusKey, code)
	} else {
		s.logger.Warn("Request rejected", log.HTTPPathKey, r.URL.Path, log.HTTPStatusKey, code, "detail", detail)
	}
	writeJSON(w, s.logger, code, map[string]string{"detail": detail})
}

func (s *Server) root(*http.Request) (interface{}, int, error) {
	return map[string]interface{}{
		"message": "Student exam score prediction API",
		"endpoints": map[string]string{
			"/predict": "POST - predict an exam score",
			"/health":  "GET - check API status",
			"/metrics": "GET - Prometheus metrics",
		},
	}, http.StatusOK, nil
}

func (s *Server) health(*http.Request) (interface{}, int, error) {
	return map[string]interface{}{
		"status":       "healthy",
		"model_loaded": s.handle != nil,
	}, http.StatusOK, nil
}

// PredictResponse は /predict の応答です。
type PredictResponse struct {
	PredictedScore float64         `json:"predicted_score"`
	InputFeatures  StudentFeatures `json:"input_features"`
}

func (s *Server) predict(r *http.Request) (resp interface{}, code int, err error) {
	if s.handle == nil {
		return nil, 0, &apiError{code: http.StatusServiceUnavailable, detail: "model is not loaded"}
	}

	var features StudentFeatures
	if err := decodeJSON(r, &features); err != nil {
		return nil, 0, err
	}
	if err := features.Validate(); err != nil {
		return nil, 0, &apiError{code: http.StatusUnprocessableEntity, detail: err.Error()}
	}

	defer errors.Recover(&err, "serving.predict")
	scores, err := s.handle.Predict([]map[string]interface{}{features.Record()})
	if err != nil {
		return nil, 0, &apiError{code: http.StatusInternalServerError, detail: "prediction failed: " + err.Error()}
	}
	if err := errors.CheckScalar("serving.predict", scores[0]); err != nil {
		return nil, 0, &apiError{code: http.StatusInternalServerError, detail: "prediction failed: " + err.Error()}
	}
	s.metrics.Predictions.Inc()
	s.logger.Debug("Prediction served", log.OperationKey, log.OperationPredict, log.PredsKey, scores[0])

	return PredictResponse{PredictedScore: round2(scores[0]), InputFeatures: features}, http.StatusOK, nil
}

// decodeJSON は構文エラーを 400、型の不一致を 422 の apiError にする
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return &apiError{code: http.StatusBadRequest, detail: "failed to read request body"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			if typeErr.Field == "" {
				return &apiError{code: http.StatusUnprocessableEntity, detail: "request body must be a JSON object"}
			}
			return &apiError{
				code:   http.StatusUnprocessableEntity,
				detail: "field '" + typeErr.Field + "' must be of type " + typeErr.Type.String(),
			}
		}
		return &apiError{code: http.StatusBadRequest, detail: "malformed JSON: " + err.Error()}
	}
	return nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func writeJSON(w http.ResponseWriter, logger log.Logger, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("could not write response", err)
	}
}

// instrument records request counts and latency for path.
func (s *Server) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.Requests.WithLabelValues(path, r.Method, strconv.Itoa(rec.status)).Inc()
		s.metrics.Latency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	})
}
