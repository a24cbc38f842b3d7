package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ericfisherdev/hairscope-lab/internal/api/middleware"
	"github.com/ericfisherdev/hairscope-lab/internal/auth"
	"github.com/ericfisherdev/hairscope-lab/internal/domain"
	"github.com/ericfisherdev/hairscope-lab/internal/guard"
	"github.com/ericfisherdev/hairscope-lab/internal/metrics"
	"github.com/ericfisherdev/hairscope-lab/internal/sessiontimer"
)

// Template names rendered by the lab handler.
const (
	templateLogin      = "login.tmpl"
	templateRestricted = "restricted.tmpl"
	templateTransition = "transition.tmpl"
	templateLab        = "lab.tmpl"
)

// User-facing texts.
const (
	messageRestricted  = "Your session has expired. Please contact support for assistance."
	messageEnded       = "Your previous lab session has ended."
	messageExited      = "You have left the lab."
	messageEntryFailed = "Your sign-in could not be completed. Please sign in again."
)

// LabConfig holds the gate settings the handlers need.
type LabConfig struct {
	PollInterval        time.Duration
	LockoutOnExhaustion bool
}

// LabHandler serves the login page, the entry transition and the lab.
type LabHandler struct {
	provider *sessiontimer.Provider
	checker  *auth.Checker
	passes   *auth.EntryPass
	guard    *guard.Guard
	feed     *FeedHandler
	config   LabConfig
	logger   *slog.Logger
}

// NewLabHandler creates the lab handler.
func NewLabHandler(
	provider *sessiontimer.Provider,
	checker *auth.Checker,
	passes *auth.EntryPass,
	g *guard.Guard,
	config LabConfig,
	logger *slog.Logger,
) *LabHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = sessiontimer.DefaultPollInterval
	}
	h := &LabHandler{
		provider: provider,
		checker:  checker,
		passes:   passes,
		guard:    g,
		config:   config,
		logger:   logger,
	}
	h.feed = NewFeedHandler(h.timerFor, config.PollInterval, logger)
	return h
}

// CloseFeeds ends the open countdown feeds. It is registered as a server
// shutdown hook.
func (h *LabHandler) CloseFeeds() {
	h.feed.Close()
}

// RegisterRoutes registers the gate routes behind the identity middleware.
// Unknown routes go through the guard, which sends them to the login page.
// apiMiddleware applies to the JSON status endpoint only.
func (h *LabHandler) RegisterRoutes(router *gin.Engine, identity gin.HandlerFunc, apiMiddleware ...gin.HandlerFunc) {
	gate := router.Group("", identity)
	{
		gate.GET(guard.PathLogin, guard.Middleware(h.guard, h.SessionFor), noStore, h.LoginPage)
		gate.POST("/login", noStore, h.Login)
		gate.POST("/enter", h.Enter)

		gate.GET(guard.PathLab, guard.Middleware(h.guard, h.SessionFor), noStore, h.LabPage)
		gate.POST(guard.PathLab+"/exit", h.Exit)
		gate.GET(guard.PathLab+"/ws", guard.Protect(h.guard, h.SessionFor), h.feed.Serve)
	}

	statusAPI := gate.Group("/api", apiMiddleware...)
	statusAPI.GET("/session/status", noStore, h.SessionStatus)
	if len(apiMiddleware) > 0 {
		statusAPI.OPTIONS("/session/status", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	}

	router.NoRoute(identity, guard.Middleware(h.guard, h.SessionFor))
}

// SessionFor resolves the session reader of the request for the guard.
func (h *LabHandler) SessionFor(c *gin.Context) guard.SessionReader {
	timer := h.timerFor(c)
	if timer == nil {
		return nil
	}
	return timer
}

func (h *LabHandler) timerFor(c *gin.Context) *sessiontimer.Timer {
	profileID := middleware.GetProfileID(c)
	if profileID == "" {
		return nil
	}
	return h.provider.For(profileID, middleware.GetWindowID(c))
}

type loginView struct {
	Title    string
	Error    string
	Username string
	Notices  []string
}

type restrictedView struct {
	Title   string
	Message string
	Notices []string
}

type transitionView struct {
	Title     string
	Action    string
	Pass      string
	ExpiresAt time.Time
}

type labView struct {
	Title       string
	Remaining   string
	RemainingMs int64
	ExpiresAtMs int64
	PollMs      int64
	FeedURL     string
	StatusURL   string
	ExitURL     string
}

// LoginPage renders the sign-in form, or the restriction notice when the
// profile's allocation is spent and lockout is enabled.
func (h *LabHandler) LoginPage(c *gin.Context) {
	notices := middleware.Flashes(c)

	status := domain.SessionStatus{}
	if d, ok := guard.DecisionFrom(c); ok {
		status = d.Status
	}

	if status.IsExhausted {
		if h.config.LockoutOnExhaustion {
			h.renderRestricted(c, notices)
			return
		}
		notices = append(notices, messageEnded)
	}

	c.HTML(http.StatusOK, templateLogin, loginView{Title: "Sign In", Notices: notices})
}

// Login checks the submitted credentials. On success it renders the entry
// transition carrying a short-lived entry pass; the session starts only
// once the transition posts the pass back to /enter.
func (h *LabHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	timer := h.timerFor(c)
	if timer == nil {
		c.Redirect(http.StatusSeeOther, guard.PathLogin)
		return
	}

	if h.restricted(ctx, timer) {
		metrics.LoginAttempts.WithLabelValues("restricted").Inc()
		h.renderRestricted(c, nil)
		return
	}

	var req domain.LoginRequest
	_ = c.ShouldBind(&req)

	if err := h.checker.Login(ctx, req); err != nil {
		h.renderLoginFailure(c, req, err)
		return
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	h.logger.Info("Login successful", "profile_id", timer.ProfileID(), "request_id", middleware.GetRequestID(c))

	pass, expiresAt, err := h.passes.Issue(timer.ProfileID(), timer.WindowID())
	if err != nil {
		h.logger.Error("Failed to issue entry pass", "profile_id", timer.ProfileID(), "error", err)
		c.HTML(http.StatusInternalServerError, templateLogin, loginView{Title: "Sign In", Error: messageEntryFailed})
		return
	}

	c.HTML(http.StatusOK, templateTransition, transitionView{
		Title:     "Access Granted",
		Action:    "/enter",
		Pass:      pass,
		ExpiresAt: expiresAt,
	})
}

func (h *LabHandler) renderLoginFailure(c *gin.Context, req domain.LoginRequest, err error) {
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		SanitizedErrorResponse(c, err)
		return
	}

	status := domain.StatusCodeFor(domainErr.Type)
	result := "invalid"
	if domainErr.Type == domain.ValidationError {
		result = "missing"
	} else {
		reason := h.checker.Validate(req.Username, req.Password)
		h.logger.Info("Login rejected",
			"reason", reason.Message,
			"profile_id", middleware.GetProfileID(c),
			"request_id", middleware.GetRequestID(c),
		)
	}
	metrics.LoginAttempts.WithLabelValues(result).Inc()

	c.HTML(status, templateLogin, loginView{
		Title:    "Sign In",
		Error:    domainErr.Message,
		Username: req.Username,
	})
}

// Enter redeems the entry pass and starts or resumes the session.
func (h *LabHandler) Enter(c *gin.Context) {
	ctx := c.Request.Context()
	timer := h.timerFor(c)
	if timer == nil {
		c.Redirect(http.StatusSeeOther, guard.PathLogin)
		return
	}

	var req domain.EnterRequest
	if err := c.ShouldBind(&req); err != nil {
		h.enterFailed(c, "missing entry pass", err)
		return
	}

	claims, err := h.passes.Redeem(ctx, req.Pass, timer.ProfileID())
	if err != nil {
		h.enterFailed(c, "entry pass rejected", err)
		return
	}
	if claims.WindowID != timer.WindowID() {
		h.enterFailed(c, "entry pass issued to another window", nil)
		return
	}

	if status := timer.Status(ctx); status.IsExhausted {
		if h.config.LockoutOnExhaustion {
			c.Redirect(http.StatusSeeOther, guard.PathLogin)
			return
		}
		if err := timer.ResetAll(ctx); err != nil {
			h.enterFailed(c, "could not clear spent session", err)
			return
		}
	}

	if err := timer.StartOrResume(ctx); err != nil {
		h.enterFailed(c, "could not start session", err)
		return
	}

	c.Redirect(http.StatusSeeOther, guard.PathLab)
}

func (h *LabHandler) enterFailed(c *gin.Context, reason string, err error) {
	h.logger.Warn("Lab entry failed",
		"reason", reason,
		"error", err,
		"profile_id", middleware.GetProfileID(c),
		"request_id", middleware.GetRequestID(c),
	)
	if flashErr := middleware.AddFlash(c, messageEntryFailed); flashErr != nil {
		h.logger.Warn("Failed to queue notice", "error", flashErr)
	}
	c.Redirect(http.StatusSeeOther, guard.PathLogin)
}

// LabPage renders the protected view. The guard has already checked that
// the session is valid and started.
func (h *LabHandler) LabPage(c *gin.Context) {
	d, _ := guard.DecisionFrom(c)
	status := d.Status

	var expiresAtMs int64
	if status.ExpiresAt != nil {
		expiresAtMs = status.ExpiresAt.UnixMilli()
	}

	c.HTML(http.StatusOK, templateLab, labView{
		Title:       "HairScope Lab",
		Remaining:   domain.FormatRemaining(status.Remaining()),
		RemainingMs: status.RemainingMs,
		ExpiresAtMs: expiresAtMs,
		PollMs:      h.config.PollInterval.Milliseconds(),
		FeedURL:     guard.PathLab + "/ws",
		StatusURL:   "/api/session/status",
		ExitURL:     guard.PathLab + "/exit",
	})
}

// Exit ends the session for every window of the profile.
func (h *LabHandler) Exit(c *gin.Context) {
	if timer := h.timerFor(c); timer != nil {
		if err := timer.ResetAll(c.Request.Context()); err != nil {
			h.logger.Warn("Exit could not reset session", "profile_id", timer.ProfileID(), "error", err)
		}
	}
	if err := middleware.AddFlash(c, messageExited); err != nil {
		h.logger.Warn("Failed to queue notice", "error", err)
	}
	c.Redirect(http.StatusSeeOther, guard.PathLogin+"?"+guard.ForcedExitParam+"=1")
}

// SessionStatus returns the composite session state of the profile.
func (h *LabHandler) SessionStatus(c *gin.Context) {
	timer := h.timerFor(c)
	if timer == nil {
		SanitizedErrorResponse(c, domain.NewSessionExhaustedError(domain.CodeNoProfile, "request carries no browser profile"))
		return
	}

	SuccessResponse(c, NewStatusPayload(timer.Status(c.Request.Context())))
}

func (h *LabHandler) restricted(ctx context.Context, timer *sessiontimer.Timer) bool {
	return h.config.LockoutOnExhaustion && timer.IsExhausted(ctx)
}

func (h *LabHandler) renderRestricted(c *gin.Context, notices []string) {
	c.HTML(http.StatusForbidden, templateRestricted, restrictedView{
		Title:   "Access Restricted",
		Message: messageRestricted,
		Notices: notices,
	})
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Next()
}
