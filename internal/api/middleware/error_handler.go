package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
)

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error, unless the handler already wrote a response.
func ErrorHandlerMiddleware(handler domain.ErrorHandler) gin.HandlerFunc {
	if handler == nil {
		handler = domain.NewDefaultErrorHandler(nil)
	}

	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		status, body := handler.HandleError(c.Errors.Last().Err)
		c.JSON(status, gin.H{
			"success":    false,
			"error":      body,
			"request_id": GetRequestID(c),
		})
	}
}
