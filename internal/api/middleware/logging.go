package middleware

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggingConfig controls the access log.
type LoggingConfig struct {
	// Logger receives one record per request. Defaults to slog.Default().
	Logger *slog.Logger
	// SkipPaths are logged at debug only (health checks, metrics scrapes).
	SkipPaths []string
}

// LoggingMiddleware writes a structured access log line per request.
// Client errors are logged at warn and server errors at error.
func LoggingMiddleware(config LoggingConfig) gin.HandlerFunc {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"request_id", GetRequestID(c),
		}
		if profileID := GetProfileID(c); profileID != "" {
			attrs = append(attrs, "profile_id", profileID)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.ByType(gin.ErrorTypePrivate).String())
		}

		switch {
		case skipPath(config.SkipPaths, path):
			logger.Debug("HTTP request", attrs...)
		case status >= 500:
			logger.Error("HTTP request", attrs...)
		case status >= 400:
			logger.Warn("HTTP request", attrs...)
		default:
			logger.Info("HTTP request", attrs...)
		}
	}
}

// DefaultLoggingMiddleware logs every request except health checks and scrapes.
func DefaultLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return LoggingMiddleware(LoggingConfig{
		Logger:    logger,
		SkipPaths: []string{"/health", "/metrics"},
	})
}

func skipPath(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
