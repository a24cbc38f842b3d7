package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

// Cookie names and gin context keys of the browser identity.
const (
	ProfileCookieName = "hs_profile"
	WindowCookieName  = "hs_window"

	ProfileIDKey = "profile_id"
	WindowIDKey  = "window_id"

	windowSessionKey = "window_session"
	idValue          = "id"
)

// DefaultProfileMaxAge keeps the profile cookie for 400 days, the longest
// lifetime browsers honour.
const DefaultProfileMaxAge = 400 * 24 * 60 * 60

// NewCookieStore returns the signed cookie store behind the profile and
// window cookies.
func NewCookieStore(secret string, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   DefaultProfileMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(DefaultProfileMaxAge)
	return store
}

// ProfileMiddleware makes sure every request carries a profile id (persistent
// cookie) and a window id (browser-session cookie), issuing fresh ones when
// missing or unreadable.
func ProfileMiddleware(store sessions.Store, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		profile := loadSession(c, store, ProfileCookieName, logger)
		profileID, fresh := ensureID(profile)
		if fresh {
			profile.Options.MaxAge = DefaultProfileMaxAge
			if err := profile.Save(c.Request, c.Writer); err != nil {
				logger.Error("Failed to save profile cookie", "error", err, "request_id", GetRequestID(c))
			} else {
				logger.Debug("Issued browser profile", "profile_id", profileID)
			}
		}

		window := loadSession(c, store, WindowCookieName, logger)
		window.Options.MaxAge = 0
		windowID, fresh := ensureID(window)
		if fresh {
			if err := window.Save(c.Request, c.Writer); err != nil {
				logger.Error("Failed to save window cookie", "error", err, "request_id", GetRequestID(c))
			}
		}

		c.Set(ProfileIDKey, profileID)
		c.Set(WindowIDKey, windowID)
		c.Set(windowSessionKey, window)

		c.Next()
	}
}

func loadSession(c *gin.Context, store sessions.Store, name string, logger *slog.Logger) *sessions.Session {
	session, err := store.Get(c.Request, name)
	if err != nil {
		logger.Debug("Discarding unreadable cookie", "cookie", name, "error", err)
	}
	if session == nil {
		session = sessions.NewSession(store, name)
		opts := sessions.Options{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode}
		session.Options = &opts
	}
	return session
}

// ensureID returns the session's id, generating one when it is not a uuid.
func ensureID(session *sessions.Session) (string, bool) {
	if id, ok := session.Values[idValue].(string); ok {
		if _, err := uuid.Parse(id); err == nil {
			return id, false
		}
	}
	id := uuid.NewString()
	session.Values[idValue] = id
	return id, true
}

// GetProfileID returns the browser profile id of the request.
func GetProfileID(c *gin.Context) string {
	return c.GetString(ProfileIDKey)
}

// GetWindowID returns the window id of the request.
func GetWindowID(c *gin.Context) string {
	return c.GetString(WindowIDKey)
}

// AddFlash queues a one-time notice for the next page this window renders.
func AddFlash(c *gin.Context, message string) error {
	window, ok := windowSession(c)
	if !ok {
		return nil
	}
	window.AddFlash(message)
	return window.Save(c.Request, c.Writer)
}

// Flashes pops the queued notices of this window.
func Flashes(c *gin.Context) []string {
	window, ok := windowSession(c)
	if !ok {
		return nil
	}
	raw := window.Flashes()
	if len(raw) == 0 {
		return nil
	}
	if err := window.Save(c.Request, c.Writer); err != nil {
		slog.Default().Warn("Failed to clear flashes", "error", err)
	}

	messages := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			messages = append(messages, s)
		}
	}
	return messages
}

func windowSession(c *gin.Context) (*sessions.Session, bool) {
	v, ok := c.Get(windowSessionKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*sessions.Session)
	return s, ok
}
