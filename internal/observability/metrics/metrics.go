// Package metrics holds the Prometheus collectors of the watcher and the
// HTTP service exposing them.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "subwatch"

type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	cycleDuration prometheus.Histogram
	notifications *prometheus.CounterVec
	substitutions *prometheus.CounterVec
	reports       *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetches_total",
		Help:      "Schedule page fetches by school and result.",
	}, []string{"school", "result"})

	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Duration of schedule page fetches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"school"})

	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a full update cycle.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications by kind and result.",
	}, []string{"kind", "result"})

	substitutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "substitutions_total",
		Help:      "Substitution entries added to tenant counters.",
	}, []string{"school"})

	reports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "year_end_reports_total",
		Help:      "Year-end decisions per tenant.",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "goroutines",
		Help:      "Number of goroutines.",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(fetches, fetchDuration, cycleDuration, notifications, substitutions, reports, goroutines)

	return &Metrics{
		registry:      registry,
		handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		fetches:       fetches,
		fetchDuration: fetchDuration,
		cycleDuration: cycleDuration,
		notifications: notifications,
		substitutions: substitutions,
		reports:       reports,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) ObserveFetch(school, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(school, result).Inc()
	m.fetchDuration.WithLabelValues(school).Observe(d.Seconds())
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
}

// ObserveNotification counts one notification; kind is "update",
// "summary" or "reply".
func (m *Metrics) ObserveNotification(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) AddSubstitutions(school string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.substitutions.WithLabelValues(school).Add(float64(n))
}

// ObserveReport counts one year-end decision ("sent", "reset", "skipped",
// "failed").
func (m *Metrics) ObserveReport(outcome string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(outcome).Inc()
}
