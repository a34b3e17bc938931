package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics uses its own registry so that several services (and tests) can
// coexist in one process.
type metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	inflight  prometheus.Gauge
	positions *prometheus.CounterVec
}

func newMetrics(health Health) metrics {
	m := metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 90},
			},
			[]string{"method", "route"},
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		}),
		positions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upgradewatch_position_lookups_total",
				Help: "Position lookups by outcome, an error kind or cache/fetched.",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(
		m.requests,
		m.latency,
		m.inflight,
		m.positions,
		collectors.NewGoCollector(),
	)

	if health != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "upgradewatch_browser_live",
				Help: "1 while a browser is running.",
			}, func() float64 {
				if health.Status().Live {
					return 1
				}
				return 0
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "upgradewatch_browser_launches_total",
				Help: "Browser launch attempts.",
			}, func() float64 {
				return float64(health.Status().Launches)
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "upgradewatch_browser_disconnects_total",
				Help: "Browsers lost without being closed.",
			}, func() float64 {
				return float64(health.Status().Disconnects)
			}),
		)
	}
	return m
}

func (m metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument labels requests with route rather than the raw path to keep
// cardinality bounded.
func (m metrics) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
