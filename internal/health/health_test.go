package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) (int, Status) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	return rec.Code, st
}

func TestNotReadyUntilSet(t *testing.T) {
	s := New(0)
	h := s.Handler()

	code, st := get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", st.Status)

	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	s.SetReady(true)
	code, st = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", st.Status)
}

func TestReadyzRunsChecks(t *testing.T) {
	s := New(0)
	s.SetReady(true)
	s.AddCheck("inventory", func(context.Context) error { return nil })
	h := s.Handler()

	code, st := get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"inventory": "ok"}, st.Checks)

	s.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	code, st = get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", st.Status)
	assert.Equal(t, "connection refused", st.Checks["redis"])
	assert.Equal(t, "ok", st.Checks["inventory"])

	// Liveness ignores checks.
	code, _ = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
}

func TestRunTimesOut(t *testing.T) {
	s := New(0)
	s.timeout = 20 * time.Millisecond
	s.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	st, err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "slow:")
	assert.Equal(t, "degraded", st.Status)
}
