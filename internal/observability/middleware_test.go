package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/guestbook/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accessRouter(buf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AdminAccess(zerolog.New(buf).Level(zerolog.DebugLevel)))
	r.GET("/ready", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })
	r.GET("/status/:part", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func serve(r *gin.Engine, path string) {
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
}

func TestAdminAccessLogsRoutePattern(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := accessRouter(&buf)

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/status/:part", "200"))
	serve(r, "/status/pool")
	entry := lastLine(t, &buf)
	assert.Equal(t, "admin request", entry["message"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "/status/:part", entry["route"])
	assert.EqualValues(t, 200, entry["status"])
	assert.Contains(t, entry, "latency")
	assert.Contains(t, entry, "remote")
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/status/:part", "200")))
}

func TestAdminAccessLevels(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := accessRouter(&buf)

	serve(r, "/ready")
	assert.Equal(t, "info", lastLine(t, &buf)["level"], "not ready is expected")

	serve(r, "/boom")
	assert.Equal(t, "error", lastLine(t, &buf)["level"])

	serve(r, "/nope")
	assert.Equal(t, "warn", lastLine(t, &buf)["level"])
}

func TestAdminAccessCollapsesUnknownPaths(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	r := accessRouter(&buf)

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", UnmatchedRoute, "404"))
	serve(r, "/a")
	serve(r, "/b/c")
	assert.Equal(t, UnmatchedRoute, lastLine(t, &buf)["route"])
	assert.Equal(t, before+2, testutil.ToFloat64(httpRequests.WithLabelValues("GET", UnmatchedRoute, "404")))
}
