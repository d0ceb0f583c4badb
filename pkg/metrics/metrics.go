package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Notification outcomes used as the "outcome" label.
const (
	OutcomeDelivered  = "delivered"
	OutcomeFailed     = "failed"
	OutcomeNoToken    = "no_token"
	OutcomeSuppressed = "suppressed"
	OutcomeDuplicate  = "duplicate"
)

// Metrics holds the follow notifier collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ChangeEvents       *prometheus.CounterVec
	FollowerAdditions  prometheus.Counter
	Notifications      *prometheus.CounterVec
	DispatchLatency    prometheus.Histogram
	SubscriptionErrors *prometheus.CounterVec
	InflightDispatches prometheus.Gauge
}

// New creates and registers all collectors under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ChangeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_events_total",
			Help:      "Total number of change events received, by kind",
		}, []string{"kind"}),
		FollowerAdditions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follower_additions_total",
			Help:      "Total number of newly added follower relationships detected",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Follow notifications by outcome",
		}, []string{"outcome"}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in a single gateway send",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		SubscriptionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_errors_total",
			Help:      "Change subscription failures, by source",
		}, []string{"source"}),
		InflightDispatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_dispatches",
			Help:      "Follow notifications currently being processed",
		}),
	}
	reg.MustRegister(
		m.ChangeEvents,
		m.FollowerAdditions,
		m.Notifications,
		m.DispatchLatency,
		m.SubscriptionErrors,
		m.InflightDispatches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) IncChangeEvent(kind string) {
	m.ChangeEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddFollowerAdditions(n int) {
	m.FollowerAdditions.Add(float64(n))
}

func (m *Metrics) IncOutcome(outcome string) {
	m.Notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSubscriptionError(source string) {
	m.SubscriptionErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) DispatchStarted()  { m.InflightDispatches.Inc() }
func (m *Metrics) DispatchFinished() { m.InflightDispatches.Dec() }

// ObserveDispatch records the duration of a gateway send that started at start.
func (m *Metrics) ObserveDispatch(start time.Time) {
	m.DispatchLatency.Observe(time.Since(start).Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
