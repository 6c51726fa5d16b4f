package serving

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics は推論サーバの Prometheus メトリクスです。
type Metrics struct {
	Requests    *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	Predictions prometheus.Counter
	ModelLoaded prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "examscore",
			Name:      "http_requests_total",
			Help:      "HTTP requests by path, method and status code.",
		}, []string{"path", "method", "code"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "examscore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path"}),
		Predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "examscore",
			Name:      "predictions_total",
			Help:      "Successful predictions.",
		}),
		ModelLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "examscore",
			Name:      "model_loaded",
			Help:      "1 when a model handle is loaded.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.Requests, m.Latency, m.Predictions, m.ModelLoaded)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
