package rpc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the HTTP transport.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CallbacksTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all transport metrics with the given
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "canopyiq",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"path", "code"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "canopyiq",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		CallbacksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "canopyiq",
				Name:      "approval_callbacks_total",
				Help:      "Total approval callbacks by source and outcome",
			},
			[]string{"source", "outcome"},
		),
	}
}

// callbackOutcome counts one callback by source and outcome. Safe on a
// nil Metrics so tests can run without a registry.
func (m *Metrics) callbackOutcome(source, outcome string) {
	if m == nil {
		return
	}
	m.CallbacksTotal.WithLabelValues(source, outcome).Inc()
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request count and duration metrics keyed
// by the route pattern.
func (m *Metrics) instrument(path string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RequestsTotal.WithLabelValues(path, strconv.Itoa(rec.code)).Inc()
		m.RequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	})
}
