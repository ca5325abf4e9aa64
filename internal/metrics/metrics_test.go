package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest("get_order", "ok", 15*time.Millisecond)
	m.ObserveRequest("get_order", "ok", 5*time.Millisecond)
	m.ObserveRequest("get_order", "502", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("get_order", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("get_order", "502")))
}

func TestMetrics_HandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObservePoll(3)
	m.ObservePurchase("completed")
	m.ObserveRequest("get_balance", "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "kinguin_api_requests_total")
	assert.Contains(t, body, "kinguin_poll_attempts_count 1")
	assert.Contains(t, body, `kinguin_purchases_total{status="completed"} 1`)
}
