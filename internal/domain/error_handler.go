package domain

import (
	"errors"
	"log/slog"
	"net/http"
)

// ErrorHandler turns an error into an HTTP status and a JSON body.
type ErrorHandler interface {
	HandleError(err error) (statusCode int, response interface{})
}

// DefaultErrorHandler logs by error type and hides internal messages.
type DefaultErrorHandler struct {
	logger *slog.Logger
}

// NewDefaultErrorHandler creates the default handler.
func NewDefaultErrorHandler(logger *slog.Logger) *DefaultErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultErrorHandler{logger: logger}
}

// APIError is the error body of JSON responses.
type APIError struct {
	Type    string                 `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HandleError maps err to a status and an APIError. Details are only kept
// for validation and authentication errors.
func (h *DefaultErrorHandler) HandleError(err error) (statusCode int, response interface{}) {
	h.logError(err)

	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError, APIError{
			Type:    string(InternalError),
			Code:    "INTERNAL_ERROR",
			Message: "An internal error occurred",
		}
	}

	apiError := APIError{
		Type:    string(domainErr.Type),
		Code:    domainErr.Code,
		Message: publicMessage(domainErr),
	}
	if domainErr.Type == ValidationError || domainErr.Type == AuthenticationError {
		apiError.Details = domainErr.Details
	}
	return StatusCodeFor(domainErr.Type), apiError
}

// publicMessage returns the message a client may see for err.
func publicMessage(err *DomainError) string {
	switch err.Type {
	case ValidationError, AuthenticationError, SessionExhaustedError:
		return err.Message
	case StorageError:
		return "Session storage temporarily unavailable"
	default:
		return "An internal error occurred"
	}
}

// StatusCodeFor maps a domain error type to its HTTP status code.
func StatusCodeFor(t ErrorType) int {
	switch t {
	case ValidationError:
		return http.StatusBadRequest
	case AuthenticationError:
		return http.StatusUnauthorized
	case SessionExhaustedError:
		return http.StatusForbidden
	case StorageError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *DefaultErrorHandler) logError(err error) {
	t, ok := TypeOf(err)
	switch {
	case !ok:
		h.logger.Error("Unexpected error", "error", err)
	case t == ValidationError:
		h.logger.Info("Client error", "error", err)
	case t == AuthenticationError || t == SessionExhaustedError:
		h.logger.Warn("Access denied", "error", err)
	default:
		h.logger.Error("Server error", "error", err)
	}
}
