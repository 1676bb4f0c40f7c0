package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAdapter(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHealthAdapter(reg, "shmatomic")

	get := func(path string) int {
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, path, nil))
		return rw.Code
	}

	assert.Equal(t, http.StatusOK, get("/live"))
	assert.Equal(t, http.StatusOK, get("/ready"))

	require.NoError(t, h.ReportHealth("fetch-add", "running"))
	require.NoError(t, h.ReportHealth("xor-toggle", "passed"))
	assert.Equal(t, http.StatusOK, get("/ready"))

	require.NoError(t, h.ReportHealth("fetch-add", "failed"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/ready"))
	assert.Equal(t, http.StatusOK, get("/live"), "a failed scenario does not make the process unhealthy")

	s, ok := h.Status("fetch-add")
	assert.True(t, ok)
	assert.Equal(t, "failed", s)
	assert.Error(t, h.ReportHealth("", "running"))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestOTelAdapterNoop(t *testing.T) {
	a, err := NewOTelAdapter(nil, nil)
	require.NoError(t, err)

	ctx, end := a.StartScenario(context.Background(), "fetch-add")
	require.NotNil(t, ctx)
	a.RecordScenario(ctx, "fetch-add", 10000, 3, time.Millisecond, true)
	end(nil)

	_, end = a.StartScenario(context.Background(), "xor-toggle")
	a.RecordScenario(ctx, "xor-toggle", 1, 0, time.Millisecond, false)
	end(errors.New("mismatch"))
}
