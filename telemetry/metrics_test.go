package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetPoolLeased(2)
		m.ObservePoolWait(time.Second)
		m.PoolExhausted()
		m.SessionOpened()
		m.SessionClosed()
		m.WaitTimedOut("visible")
		m.Click(ClickFallback)
		m.APILogin(false)
		m.ScenarioFinished("passed")
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.Click(ClickNative)
	m.Click(ClickFallback)
	m.Click(ClickFallback)
	m.WaitTimedOut("url-contains")
	m.SetPoolLeased(2)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.clicks.WithLabelValues(ClickNative)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.clicks.WithLabelValues(ClickFallback)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.waitTimeouts.WithLabelValues("url-contains")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.poolLeased))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sessions))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.APILogin(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `storefront_e2e_api_logins_total{result="success"} 1`))
}
