package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ericfisherdev/hairscope-lab/internal/api/middleware"
	"github.com/ericfisherdev/hairscope-lab/internal/domain"
)

// ErrorSanitizer turns errors into client-safe JSON while logging the
// detailed cause server-side under the request id.
type ErrorSanitizer struct {
	logger *slog.Logger
}

// NewErrorSanitizer creates a new error sanitizer with structured logging
func NewErrorSanitizer(logger *slog.Logger) *ErrorSanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorSanitizer{logger: logger}
}

// SanitizedErrorResponse writes the sanitized error and aborts the chain.
func (s *ErrorSanitizer) SanitizedErrorResponse(c *gin.Context, err error) {
	requestID := middleware.GetRequestID(c)

	var domainErr *domain.DomainError
	isDomainError := errors.As(err, &domainErr)

	s.logError(c, err, requestID, domainErr)

	statusCode, response := sanitizeErrorForClient(domainErr, isDomainError, requestID)
	c.AbortWithStatusJSON(statusCode, response)
}

func (s *ErrorSanitizer) logError(c *gin.Context, err error, requestID string, domainErr *domain.DomainError) {
	args := []any{
		"request_id", requestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"remote_addr", c.ClientIP(),
	}
	if profileID := middleware.GetProfileID(c); profileID != "" {
		args = append(args, "profile_id", profileID)
	}

	if domainErr == nil {
		args = append(args, "error", err.Error())
		s.logger.ErrorContext(c.Request.Context(), "Unexpected system error occurred", args...)
		return
	}

	args = append(args,
		"error_type", string(domainErr.Type),
		"error_code", domainErr.Code,
		"error_message", domainErr.Message,
	)
	if domainErr.Cause != nil {
		args = append(args, "underlying_error", domainErr.Cause.Error())
	}
	for key, value := range domainErr.Details {
		if !isSensitiveField(key) {
			args = append(args, "detail_"+key, value)
		}
	}

	switch domainErr.Type {
	case domain.ValidationError, domain.AuthenticationError, domain.SessionExhaustedError:
		s.logger.WarnContext(c.Request.Context(), "Domain error occurred", args...)
	default:
		s.logger.ErrorContext(c.Request.Context(), "Domain error occurred", args...)
	}
}

// sanitizeErrorForClient returns safe error response for client consumption
func sanitizeErrorForClient(domainErr *domain.DomainError, isDomainError bool, requestID string) (int, gin.H) {
	if !isDomainError {
		return http.StatusInternalServerError, gin.H{
			"success":    false,
			"request_id": requestID,
			"error": gin.H{
				"type":    string(domain.InternalError),
				"code":    "SYSTEM_ERROR",
				"message": "An unexpected error occurred. Please try again later.",
			},
		}
	}

	body := gin.H{
		"type": string(domainErr.Type),
		"code": domainErr.Code,
	}

	switch domainErr.Type {
	case domain.ValidationError, domain.AuthenticationError:
		body["message"] = domainErr.Message
		if field, ok := domainErr.Details["field"]; ok {
			body["field"] = field
		}
	case domain.SessionExhaustedError:
		body["message"] = "Your session has expired. Please contact support for assistance."
	case domain.StorageError:
		body["message"] = "Session storage temporarily unavailable"
	default:
		body["message"] = "An error occurred while processing your request"
	}

	return domain.StatusCodeFor(domainErr.Type), gin.H{
		"success":    false,
		"request_id": requestID,
		"error":      body,
	}
}

var sensitiveFields = map[string]bool{
	"password":      true,
	"token":         true,
	"secret":        true,
	"key":           true,
	"authorization": true,
	"cookie":        true,
	"session":       true,
	"pass":          true,
	"entry_pass":    true,
	"jwt":           true,
}

// isSensitiveField checks if a field contains sensitive information that shouldn't be logged
func isSensitiveField(field string) bool {
	return sensitiveFields[field]
}
