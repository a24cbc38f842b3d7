package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
)

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	// Logger receives the panic record. Defaults to slog.Default().
	Logger *slog.Logger
	// HandleRecovery replaces the default response when set.
	HandleRecovery func(c *gin.Context, recovered any)
	// RedirectTo is where page requests land after a panic. Defaults to "/".
	RedirectTo string
	// PrintStack adds the goroutine stack to the log record.
	PrintStack bool
}

// RecoveryMiddleware turns panics into a sanitized JSON error for API calls
// and a redirect to the login page for page loads.
func RecoveryMiddleware(config RecoveryConfig) gin.HandlerFunc {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redirectTo := config.RedirectTo
	if redirectTo == "" {
		redirectTo = "/"
	}

	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		attrs := []any{
			"panic", fmt.Sprint(recovered),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"request_id", GetRequestID(c),
		}
		if config.PrintStack {
			attrs = append(attrs, "stack", string(debug.Stack()))
		}
		logger.Error("Panic recovered", attrs...)

		if config.HandleRecovery != nil {
			config.HandleRecovery(c, recovered)
			return
		}

		if c.Writer.Written() {
			c.Abort()
			return
		}

		if wantsJSON(c) {
			sanitizedErrorResponse(c, domain.NewInternalError(
				domain.CodePanicRecovered,
				"Service temporarily unavailable",
				fmt.Errorf("panic: %v", recovered),
			))
			return
		}

		c.Redirect(http.StatusSeeOther, redirectTo)
		c.Abort()
	})
}

// DefaultRecoveryMiddleware logs the stack and redirects pages to "/".
func DefaultRecoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return RecoveryMiddleware(RecoveryConfig{
		Logger:     logger,
		PrintStack: true,
	})
}
