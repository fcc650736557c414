package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObserveDecision(t *testing.T) {
	m := NewMetrics()
	m.ObserveDecision("deny", "no roles assigned")
	m.ObserveDecision("deny", "no roles assigned")
	m.ObserveDecision("allow", "grants-all role")

	body := scrape(t, m)
	require.Contains(t, body, `gatehouse_access_decisions_total{decision="deny",reason="no roles assigned"} 2`)
	require.Contains(t, body, `gatehouse_access_decisions_total{decision="allow",reason="grants-all role"} 1`)
}

func TestIncAuditFailure(t *testing.T) {
	m := NewMetrics()
	m.IncAuditFailure("access_logs")
	m.IncAuditFailure("change_history")
	m.IncAuditFailure("change_history")

	body := scrape(t, m)
	require.Contains(t, body, `gatehouse_audit_write_failures_total{kind="access_logs"} 1`)
	require.Contains(t, body, `gatehouse_audit_write_failures_total{kind="change_history"} 2`)
}

func TestMiddlewareCountsRequests(t *testing.T) {
	m := NewMetrics()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	body := scrape(t, m)
	require.Contains(t, body, `gatehouse_http_requests_total`)
	require.Contains(t, body, `code="418"`)
}

func TestNilMetricsAreInert(t *testing.T) {
	var m *Metrics
	m.ObserveDecision("deny", "x")
	m.IncAuditFailure("x")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRoutePatternFallsBack(t *testing.T) {
	require.Equal(t, "unknown", routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)))
}
