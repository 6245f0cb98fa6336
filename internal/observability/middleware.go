package observability

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RequestLogger logs one line per admin request, tagged with the relay's
// server id. Health checks and scrapes log at trace so they do not drown
// participant events.
func RequestLogger(logger zerolog.Logger, server string) gin.HandlerFunc {
	logger = logger.With().Str("server", server).Str("component", "admin").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeLabel(c)
		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.Error().Strs("errors", c.Errors.Errors())
		case status >= 400:
			event = logger.Warn()
		case route == "/health" || route == "/ready" || route == "/metrics":
			event = logger.Trace()
		default:
			event = logger.Debug()
		}
		event.
			Str("group", routeGroup(route)).
			Str("route", route).
			Int("status", status).
			Dur("took", time.Since(start)).
			Str("peer", c.ClientIP()).
			Msg("admin request")
	}
}

// RequestMetricsMiddleware records admin request counts and latency per
// matched route.
func RequestMetricsMiddleware(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(server, c.Request.Method, routeLabel(c), c.Writer.Status(), time.Since(start))
	}
}

// routeLabel is the matched route pattern, so /participants/:id stays one
// label however many ids are queried.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// routeGroup is the first path segment of a route: "participants" for
// both /participants and /participants/:id.
func routeGroup(route string) string {
	trimmed := strings.TrimPrefix(route, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "" {
		return "root"
	}
	return trimmed
}
