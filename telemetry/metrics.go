// Package telemetry exposes Prometheus metrics for the harness's shared resources and for the
// places where it trades fidelity for stability, such as scripted click fallbacks.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront_e2e"

// Metrics holds the collectors registered for one test run.
type Metrics struct {
	registry       *prometheus.Registry
	poolLeased     prometheus.Gauge
	poolWait       prometheus.Histogram
	poolExhausted  prometheus.Counter
	sessions       prometheus.Gauge
	waitTimeouts   *prometheus.CounterVec
	clicks         *prometheus.CounterVec
	authAttempts   *prometheus.CounterVec
	scenarioResult *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		poolLeased: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credentials_leased",
			Help:      "Number of test credentials currently leased to execution contexts.",
		}),
		poolWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credential_acquire_wait_seconds",
			Help:      "Time spent waiting for a test credential.",
			Buckets:   []float64{.001, .01, .1, 1, 5, 15, 60, 300},
		}),
		poolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_acquire_timeouts_total",
			Help:      "Number of credential acquisitions that timed out.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_sessions_active",
			Help:      "Number of open browser sessions.",
		}),
		waitTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wait_timeouts_total",
			Help:      "Number of bounded waits that timed out, by condition kind.",
		}, []string{"condition"}),
		clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_total",
			Help:      "Click outcomes: native, fallback (degraded success) or failed.",
		}, []string{"outcome"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_logins_total",
			Help:      "Direct protocol login attempts by result.",
		}, []string{"result"}),
		scenarioResult: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenarios_total",
			Help:      "Finished scenarios by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.poolLeased, m.poolWait, m.poolExhausted, m.sessions,
		m.waitTimeouts, m.clicks, m.authAttempts, m.scenarioResult,
	)
	return m
}

// Registry returns the registry holding all of this instance's collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetPoolLeased(n int) {
	if m != nil {
		m.poolLeased.Set(float64(n))
	}
}

func (m *Metrics) ObservePoolWait(d time.Duration) {
	if m != nil {
		m.poolWait.Observe(d.Seconds())
	}
}

func (m *Metrics) PoolExhausted() {
	if m != nil {
		m.poolExhausted.Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) WaitTimedOut(condition string) {
	if m != nil {
		m.waitTimeouts.WithLabelValues(condition).Inc()
	}
}

// Click outcomes.
const (
	ClickNative   = "native"
	ClickFallback = "fallback"
	ClickFailed   = "failed"
)

func (m *Metrics) Click(outcome string) {
	if m != nil {
		m.clicks.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) APILogin(ok bool) {
	if m != nil {
		result := "success"
		if !ok {
			result = "failure"
		}
		m.authAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ScenarioFinished(result string) {
	if m != nil {
		m.scenarioResult.WithLabelValues(result).Inc()
	}
}
