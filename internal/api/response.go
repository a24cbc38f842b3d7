// Package api wires the HTTP surface of the lab gate: the login page, the
// entry transition, the protected lab view with its countdown feed, and the
// JSON status and health endpoints.
//
// JSON error payloads go through SanitizedErrorResponse so internal messages
// never reach the client. Page handlers degrade to a redirect to "/".
package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
	"github.com/ericfisherdev/hairscope-lab/internal/guard"
)

var (
	defaultSanitizer *ErrorSanitizer
	sanitizerOnce    sync.Once
)

func getDefaultSanitizer() *ErrorSanitizer {
	sanitizerOnce.Do(func() {
		defaultSanitizer = NewErrorSanitizer(slog.Default())
	})
	return defaultSanitizer
}

// SanitizedErrorResponse writes err as a JSON error and logs the details.
func SanitizedErrorResponse(c *gin.Context, err error) {
	getDefaultSanitizer().SanitizedErrorResponse(c, err)
}

// Envelope wraps every successful JSON payload.
type Envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

// SuccessResponse writes data inside an Envelope with status 200.
func SuccessResponse[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, Envelope[T]{Success: true, Data: data})
}

// StatusPayload is the body of GET /api/session/status.
type StatusPayload struct {
	Status    domain.SessionStatus `json:"status"`
	Remaining string               `json:"remaining"`
	State     guard.State          `json:"state"`
}

// NewStatusPayload derives the display fields from status.
func NewStatusPayload(status domain.SessionStatus) StatusPayload {
	return StatusPayload{
		Status:    status,
		Remaining: domain.FormatRemaining(status.Remaining()),
		State:     guard.StateOf(status),
	}
}
