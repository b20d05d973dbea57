package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func named(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Handler", name)
		w.WriteHeader(http.StatusOK)
	}
}

func stubHandlers() HandlerSet {
	return HandlerSet{
		CreatePlan:     named("CreatePlan"),
		ListPlans:      named("ListPlans"),
		GetPlan:        named("GetPlan"),
		UpdatePlan:     named("UpdatePlan"),
		DeletePlan:     named("DeletePlan"),
		OpenAccount:    named("OpenAccount"),
		GetUsage:       named("GetUsage"),
		UpdateUsage:    named("UpdateUsage"),
		GetUsageStatus: named("GetUsageStatus"),
		ReconcileUsage: named("ReconcileUsage"),
		AppendEvent:    named("AppendEvent"),
		ListEvents:     named("ListEvents"),
		ListModels:     named("ListModels"),
		TokenUsage:     named("TokenUsage"),
		APICalls:       named("APICalls"),
		UsageStats:     named("UsageStats"),
	}
}

func TestRouter_Routes(t *testing.T) {
	router := NewRouter(RouterConfig{}, stubHandlers())

	tests := []struct {
		method, path, handler string
	}{
		{http.MethodPost, "/api/v1/plans", "CreatePlan"},
		{http.MethodGet, "/api/v1/plans", "ListPlans"},
		{http.MethodGet, "/api/v1/plans/free", "GetPlan"},
		{http.MethodPut, "/api/v1/plans/free", "UpdatePlan"},
		{http.MethodDelete, "/api/v1/plans/free", "DeletePlan"},
		{http.MethodPost, "/api/v1/usage/alice", "OpenAccount"},
		{http.MethodGet, "/api/v1/usage/alice", "GetUsage"},
		{http.MethodPut, "/api/v1/usage/alice", "UpdateUsage"},
		{http.MethodGet, "/api/v1/usage/alice/status", "GetUsageStatus"},
		{http.MethodGet, "/api/v1/usage/alice/reconcile", "ReconcileUsage"},
		{http.MethodPost, "/api/v1/events", "AppendEvent"},
		{http.MethodGet, "/api/v1/events", "ListEvents"},
		{http.MethodGet, "/api/v1/events/models", "ListModels"},
		{http.MethodGet, "/api/v1/analytics/token-usage", "TokenUsage"},
		{http.MethodGet, "/api/v1/analytics/api-calls", "APICalls"},
		{http.MethodGet, "/api/v1/analytics/usage-stats", "UsageStats"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.handler, rec.Header().Get("X-Handler"))
		})
	}
}

func TestRouter_AdminGuardOnlyOnMutations(t *testing.T) {
	h := stubHandlers()
	h.AdminMiddleware = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			HandleError(w, ErrUnauthorized)
		})
	}
	router := NewRouter(RouterConfig{}, h)

	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		path := "/api/v1/plans/free"
		if m == http.MethodPost {
			path = "/api/v1/plans"
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(m, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, m)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_IngestRateLimiterScope(t *testing.T) {
	limited := map[string]bool{}
	cfg := RouterConfig{
		IngestRateLimiter: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				limited[r.Method+" "+r.URL.Path] = true
				next.ServeHTTP(w, r)
			})
		},
	}
	router := NewRouter(cfg, stubHandlers())

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/v1/events", nil),
		httptest.NewRequest(http.MethodPut, "/api/v1/usage/alice", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/events", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/usage/alice", nil),
	} {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.True(t, limited["POST /api/v1/events"])
	assert.True(t, limited["PUT /api/v1/usage/alice"])
	assert.False(t, limited["GET /api/v1/events"])
	assert.False(t, limited["GET /api/v1/usage/alice"])
}

func TestRouter_Health(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	broken := func(context.Context) error { return errors.New("down") }

	router := NewRouter(RouterConfig{HealthChecks: map[string]HealthCheck{
		"postgres": healthy,
		"redis":    healthy,
	}}, stubHandlers())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"status":"healthy","postgres":"healthy","redis":"healthy"}}`, rec.Body.String())

	router = NewRouter(RouterConfig{HealthChecks: map[string]HealthCheck{
		"postgres": healthy,
		"redis":    broken,
	}}, stubHandlers())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"data":{"status":"degraded","postgres":"healthy","redis":"unhealthy"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
