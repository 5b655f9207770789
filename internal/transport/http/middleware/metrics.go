package middleware

import (
	"strconv"
	"time"

	"github.com/ErlanBelekov/authsvc/internal/metrics"
	"github.com/ErlanBelekov/authsvc/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
)

// Metrics records latency and volume per route template. Responses written
// through handler.WriteError are also counted by error kind, so a burst of
// OtpMismatch on verify-account shows up apart from plain 400s.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := []string{c.Request.Method, route, strconv.Itoa(c.Writer.Status())}
		metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(labels...).Inc()

		if kind := c.GetString(handler.ErrorKindKey); kind != "" {
			metrics.HTTPErrorsTotal.WithLabelValues(route, kind).Inc()
		}
	}
}
