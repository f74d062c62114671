package observability

import (
	"testing"
	"time"

	"github.com/danmuck/guestbook/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordConnection(OutcomeAccepted)

	before := testutil.ToFloat64(requests.WithLabelValues("login", "ok"))
	RecordRequest("login", "ok", 3*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(requests.WithLabelValues("login", "ok")))
}

func TestTrackInflightReleases(t *testing.T) {
	testlog.Start(t)
	base := testutil.ToFloat64(inflight)
	release := TrackInflight()
	assert.Equal(t, base+1, testutil.ToFloat64(inflight))
	release()
	assert.Equal(t, base, testutil.ToFloat64(inflight))
}
