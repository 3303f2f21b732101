package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMiddleware_counts_errors(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal))
}

func TestObserveRefresh_by_result(t *testing.T) {
	m := New()
	m.ObserveRefresh(RefreshOK)
	m.ObserveRefresh(RefreshOK)
	m.ObserveRefresh(RefreshAuthExpired)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokenRefreshTotal.WithLabelValues(RefreshOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRefreshTotal.WithLabelValues(RefreshAuthExpired)))
}

func TestHandler_refreshes_gauges_before_scrape(t *testing.T) {
	m := New()
	called := false
	h := m.Handler(func() {
		called = true
		m.SetSessionsActive(3)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.True(t, called)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "player_sessions_active 3")
}

func TestTransport_counts_backend_calls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	m := New()
	client := &http.Client{Transport: &Transport{Metrics: m}}
	resp, err := client.Get(srv.URL + "/profile")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.backendRequestsTotal.WithLabelValues("/profile")))
}
