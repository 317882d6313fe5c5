package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"deltar/internal/errors"
)

// Metrics holds the server's prometheus collectors. Each server owns a registry so that
// several servers (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	estimations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	columns     prometheus.Counter
}

// NewMetrics registers the estimation and request collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deltar_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "status"}),
		estimations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deltar_estimations_total",
			Help: "Estimation runs by method and outcome code",
		}, []string{"method", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deltar_estimation_duration_seconds",
			Help:    "Wall time of estimation runs",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"method"}),
		columns: factory.NewCounter(prometheus.CounterOpts{
			Name: "deltar_columns_estimated_total",
			Help: "Table columns estimated successfully",
		}),
	}
}

// Registry exposes the collectors for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeEstimation(method string, start time.Time, columns int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = errors.GetCode(err)
	}
	m.estimations.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err == nil {
		m.columns.Add(float64(columns))
	}
}

// countRequests records every response under its chi route pattern
func (m *Metrics) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
