package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/YuminosukeSato/examscore/pkg/config"
	"github.com/YuminosukeSato/examscore/pkg/errors"
	"github.com/YuminosukeSato/examscore/pkg/log"
)

// Gateway は /predict を推論サーバへ転送するプロキシです。
//
// 成功時は上流の応答を {"prediction": ...} に包んで返し、転送の失敗や上流の
// エラー応答は {"error": "prediction failed", "details": ...} の 500 になります。
type Gateway struct {
	cfg    config.Gateway
	client *http.Client
	logger log.Logger
	mux    *http.ServeMux
}

// NewGateway creates a gateway forwarding to cfg.Upstream.
func NewGateway(cfg config.Gateway, logger log.Logger) *Gateway {
	if logger == nil {
		logger = log.GetLoggerWithName("gateway")
	}
	g := &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		mux:    http.NewServeMux(),
	}
	g.mux.HandleFunc("/predict", g.predict)
	g.mux.HandleFunc("/", g.root)
	return g
}

// Handler returns the gateway handler with request logging.
func (g *Gateway) Handler() http.Handler {
	return requestLog(g.logger, g.mux)
}

// Run serves until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	srv := &http.Server{Addr: g.cfg.Addr, Handler: g.Handler()}
	g.logger.Info("Starting gateway", log.HTTPPathKey, g.cfg.Addr, "upstream", g.cfg.Upstream)
	return serve(ctx, srv, g.logger, 0)
}

func (g *Gateway) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "Welcome to the exam score prediction API")
}

type gatewayError struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details"`
}

func (g *Gateway) predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, g.logger, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		g.fail(w, err.Error())
		return
	}
	g.logger.Debug("Forwarding prediction request", "body", string(body))

	reply, err := g.forward(r.Context(), body)
	if err != nil {
		var ue *upstreamError
		if errors.As(err, &ue) {
			g.fail(w, ue.details)
			return
		}
		g.fail(w, err.Error())
		return
	}
	writeJSON(w, g.logger, http.StatusOK, map[string]json.RawMessage{"prediction": reply})
}

func (g *Gateway) fail(w http.ResponseWriter, details interface{}) {
	g.logger.Warn("Prediction failed", "details", details)
	writeJSON(w, g.logger, http.StatusInternalServerError, gatewayError{Error: "prediction failed", Details: details})
}

// upstreamError は上流が 2xx 以外を返した場合のエラー
type upstreamError struct {
	status  int
	details interface{}
}

func (e *upstreamError) Error() string {
	return "upstream returned " + http.StatusText(e.status)
}

func (g *Gateway) forward(ctx context.Context, body []byte) (json.RawMessage, error) {
	url := strings.TrimRight(g.cfg.Upstream, "/") + "/predict"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upstream request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read upstream response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var details interface{} = string(data)
		if json.Valid(data) {
			details = json.RawMessage(data)
		}
		return nil, &upstreamError{status: resp.StatusCode, details: details}
	}
	if !json.Valid(data) {
		return nil, errors.New("upstream returned invalid JSON")
	}
	return data, nil
}
