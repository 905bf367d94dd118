package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthOf(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv, _ := newTestServer(t)
	srv.HealthProbes = probes
	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func okProbe(name string) HealthProbe {
	return ProbeFunc{ProbeName: name, Fn: func(context.Context) error { return nil }}
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, resp := healthOf(t)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Empty(t, resp.Components)
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	code, resp := healthOf(t, okProbe("database"), okProbe("rule_catalog"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Components["database"].Status)
	assert.Equal(t, "healthy", resp.Components["rule_catalog"].Status)
}

func TestHandleHealth_Failure(t *testing.T) {
	failing := ProbeFunc{ProbeName: "database", Fn: func(context.Context) error { return errors.New("connection refused") }}
	code, resp := healthOf(t, failing, okProbe("rule_catalog"))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, componentStatus{Status: "unhealthy", Message: "connection refused"}, resp.Components["database"])
	assert.Equal(t, "healthy", resp.Components["rule_catalog"].Status)
}

func TestHandleHealth_PanicAndTimeout(t *testing.T) {
	panicky := ProbeFunc{ProbeName: "catalog", Fn: func(context.Context) error { panic("nil client") }}
	slow := ProbeFunc{ProbeName: "database", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return ctx.Err()
	}}
	code, resp := healthOf(t, panicky, slow)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, resp.Components["catalog"].Message, "probe panicked")
	assert.Equal(t, "health check timed out", resp.Components["database"].Message)
}
