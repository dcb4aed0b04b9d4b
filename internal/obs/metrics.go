package obs

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/spammy/internal/gateway"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Throttled       *prometheus.CounterVec
	LogSuppressed   *prometheus.CounterVec
	LiveLimiters    prometheus.GaugeFunc
}

// NewMetrics registers the collectors on reg. live reports the number of
// limiters currently held by the registry.
func NewMetrics(reg prometheus.Registerer, live func() float64) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spammy_requests_total",
				Help: "Total HTTP requests processed",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spammy_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		Throttled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spammy_throttled_total",
				Help: "Total requests rejected because the caller's cooldown had not elapsed",
			},
			[]string{"route"},
		),
		LogSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spammy_log_suppressed_total",
				Help: "Total log lines dropped by the log throttle",
			},
			[]string{"namespace"},
		),
		LiveLimiters: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "spammy_limiters_live",
				Help: "Limiters currently held by the registry",
			},
			live,
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Throttled, m.LogSuppressed, m.LiveLimiters)
	return m
}

// Middleware records per-request metrics. Paths outside routes are
// labelled "other" to keep cardinality bounded.
func (m *Metrics) Middleware(skip, routes map[string]struct{}) gateway.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			snoop := httpsnoop.CaptureMetrics(next, w, r)

			route := routeLabel(routes, r.URL.Path)
			m.RequestDuration.WithLabelValues(route, r.Method).Observe(snoop.Duration.Seconds())
			m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(snoop.Code)).Inc()
		})
	}
}
