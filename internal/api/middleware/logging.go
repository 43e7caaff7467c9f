package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Logging logs HTTP requests with structured fields. Status polls and
// health checks log at debug so the always-on display does not flood the
// request log.
func Logging(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		clientIP := c.ClientIP()
		method := c.Request.Method
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		if raw != "" {
			path = path + "?" + raw
		}

		logFn := logger.Info
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/v1/status" {
			logFn = logger.Debug
		}

		logFn("HTTP request",
			"component", "api",
			"request_id", c.GetString(RequestIDKey),
			"method", method,
			"path", path,
			"status", statusCode,
			"latency", latency.String(),
			"client_ip", clientIP,
			"error", errorMessage,
		)
	}
}
