package guard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
)

// ContextKeyDecision is the gin context key holding the Decision.
const ContextKeyDecision = "guard_decision"

// ForcedExitParam is the query parameter marking a forced exit.
const ForcedExitParam = "exit"

// SessionFunc resolves the session of the request.
type SessionFunc func(c *gin.Context) SessionReader

// Middleware guards the route it is attached to, using the request path.
func Middleware(g *Guard, sessionFor SessionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		g.handle(c, sessionFor, Navigation{
			Path:       c.Request.URL.Path,
			ForcedExit: c.Query(ForcedExitParam) == "1",
		})
	}
}

// Protect guards a route as if it were the lab, whatever its path.
// Websocket upgrades that are denied get 403 instead of a redirect.
func Protect(g *Guard, sessionFor SessionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		g.handle(c, sessionFor, Navigation{Path: PathLab})
	}
}

func (g *Guard) handle(c *gin.Context, sessionFor SessionFunc, nav Navigation) {
	sessions := sessionFor(c)
	if sessions == nil {
		// No profile means no session.
		if nav.Path == PathLogin {
			c.Next()
			return
		}
		deny(c, PathLogin)
		return
	}

	d := g.Evaluate(c.Request.Context(), sessions, nav)
	c.Set(ContextKeyDecision, d)

	if !d.Allow {
		deny(c, d.RedirectTo)
		return
	}
	c.Next()
}

func deny(c *gin.Context, to string) {
	if c.IsWebsocket() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"success": false,
			"error": gin.H{
				"type":    domain.SessionExhaustedError,
				"code":    "NO_ACTIVE_SESSION",
				"message": "No active lab session",
			},
		})
		return
	}
	c.Redirect(http.StatusSeeOther, to)
	c.Abort()
}

// DecisionFrom returns the decision stored by Middleware or Protect.
func DecisionFrom(c *gin.Context) (Decision, bool) {
	v, ok := c.Get(ContextKeyDecision)
	if !ok {
		return Decision{}, false
	}
	d, ok := v.(Decision)
	return d, ok
}
