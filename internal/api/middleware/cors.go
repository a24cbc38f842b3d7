package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig describes the cross-origin policy of the JSON endpoints.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
}

// CORSMiddleware returns a CORS middleware for the given policy.
// An empty origin list allows any origin without credentials.
func CORSMiddleware(config CORSConfig) gin.HandlerFunc {
	methods := "GET, OPTIONS"
	if len(config.AllowedMethods) > 0 {
		methods = strings.Join(config.AllowedMethods, ", ")
	}
	headers := "Content-Type, X-Request-ID"
	if len(config.AllowedHeaders) > 0 {
		headers = strings.Join(config.AllowedHeaders, ", ")
	}
	wildcard := len(config.AllowedOrigins) == 0 || slices.Contains(config.AllowedOrigins, "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		switch {
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(config.AllowedOrigins, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			if config.AllowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// DefaultCORSMiddleware allows the local development origins to read the
// session status with cookies.
func DefaultCORSMiddleware(port string) gin.HandlerFunc {
	return CORSMiddleware(CORSConfig{
		AllowedOrigins: []string{
			"http://localhost:" + port,
			"http://127.0.0.1:" + port,
		},
		AllowCredentials: true,
	})
}
