package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
)

// sanitizedErrorResponse writes a JSON error without leaking internals.
// Only validation, authentication and exhausted-session messages reach the client.
func sanitizedErrorResponse(c *gin.Context, err error) {
	requestID := GetRequestID(c)

	slog.Default().Error("Middleware error occurred",
		"error", err,
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"request_id", requestID,
	)

	statusCode := http.StatusInternalServerError
	body := gin.H{
		"type":       string(domain.InternalError),
		"code":       "MIDDLEWARE_ERROR",
		"message":    "An error occurred processing your request",
		"request_id": requestID,
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		statusCode = domain.StatusCodeFor(domainErr.Type)
		body["type"] = string(domainErr.Type)
		body["code"] = domainErr.Code
		switch domainErr.Type {
		case domain.ValidationError, domain.AuthenticationError, domain.SessionExhaustedError:
			body["message"] = domainErr.Message
		}
	}

	c.AbortWithStatusJSON(statusCode, gin.H{"success": false, "error": body})
}

// wantsJSON reports whether the caller is a script rather than a page load.
func wantsJSON(c *gin.Context) bool {
	if c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON {
		return true
	}
	return strings.HasPrefix(c.Request.URL.Path, "/api/")
}
