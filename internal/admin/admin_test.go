package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/guestbook/internal/server"
	"github.com/danmuck/guestbook/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats server.Stats

func (f fixedStats) Stats() server.Stats { return server.Stats(f) }

func get(t *testing.T, a *Admin, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	testlog.Start(t)
	a := New("127.0.0.1:0", fixedStats{})
	rec, body := get(t, a, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestReadyFollowsServerState(t *testing.T) {
	testlog.Start(t)
	rec, body := get(t, New("", fixedStats{State: server.StateListening}), "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ready"])

	for _, state := range []server.State{server.StateStopped, server.StateTerminating} {
		rec, body = get(t, New("", fixedStats{State: state}), "/ready")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, state.String(), body["state"])
	}
}

func TestStatus(t *testing.T) {
	testlog.Start(t)
	a := New("", fixedStats{
		State:   server.StateListening,
		Addr:    "127.0.0.1:9000",
		Workers: 10,
		Busy:    3,
		Queued:  1,
		Uptime:  time.Minute,
	})
	rec, body := get(t, a, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "listening", body["state"])
	assert.Equal(t, "127.0.0.1:9000", body["addr"])
	assert.EqualValues(t, 10, body["workers"])
	assert.EqualValues(t, 3, body["busy"])
	assert.EqualValues(t, 1, body["queued"])
	assert.Equal(t, "1m0s", body["uptime"])
}

func TestMetricsExposed(t *testing.T) {
	testlog.Start(t)
	a := New("", fixedStats{})
	get(t, a, "/health")
	rec, _ := get(t, a, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "guestbook_http_requests_total")
}
