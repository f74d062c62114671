package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// UnmatchedRoute labels admin requests that hit no registered route, so
// arbitrary probe paths cannot grow the metric label set.
const UnmatchedRoute = "unmatched"

// AdminRoute is the registered route pattern for c, or UnmatchedRoute.
func AdminRoute(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return UnmatchedRoute
}

// AdminAccess logs and counts every admin request. Scrapes and health
// checks are debug noise; a not-ready answer is an expected state and is
// logged at info.
func AdminAccess(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := AdminRoute(c)
		RecordHTTPRequest(c.Request.Method, route, status, elapsed)

		var event *zerolog.Event
		switch {
		case status == http.StatusServiceUnavailable && route == "/ready":
			event = logger.Info()
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		default:
			event = logger.Debug()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", elapsed).
			Str("remote", c.ClientIP()).
			Msg("admin request")
	}
}
