package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ericfisherdev/hairscope-lab/internal/api/middleware"
	"github.com/ericfisherdev/hairscope-lab/internal/domain"
	"github.com/ericfisherdev/hairscope-lab/internal/metrics"
	"github.com/ericfisherdev/hairscope-lab/internal/sessiontimer"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// TimerFunc resolves the session timer of a request.
type TimerFunc func(c *gin.Context) *sessiontimer.Timer

// FeedMessage is one countdown update pushed to the lab view.
type FeedMessage struct {
	Type        sessiontimer.EventKind `json:"type"`
	Remaining   string                 `json:"remaining"`
	RemainingMs int64                  `json:"remaining_ms"`
	ExpiresAt   *time.Time             `json:"expires_at,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// FeedHandler streams the countdown of the lab view over a websocket. Each
// connection runs its own Monitor; the feed ends with an expired or reset
// message, after which the page shows the expired view.
type FeedHandler struct {
	upgrader websocket.Upgrader
	timerFor TimerFunc
	interval time.Duration
	logger   *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// NewFeedHandler creates the countdown feed.
func NewFeedHandler(timerFor TimerFunc, interval time.Duration, logger *slog.Logger) *FeedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameOrigin,
		},
		timerFor: timerFor,
		interval: interval,
		logger:   logger,
		closing:  make(chan struct{}),
	}
}

// Close ends every open feed with a going-away close frame. Hijacked
// connections are not tracked by http.Server, so Shutdown cannot do it.
func (h *FeedHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Serve upgrades the request and pushes monitor events until the session
// ends or the browser goes away.
func (h *FeedHandler) Serve(c *gin.Context) {
	timer := h.timerFor(c)
	if timer == nil {
		SanitizedErrorResponse(c, domain.NewSessionExhaustedError(domain.CodeNoActiveSession, "No active lab session"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err, "request_id", middleware.GetRequestID(c))
		return
	}
	defer func() { _ = conn.Close() }()

	metrics.LabViewers.Inc()
	defer metrics.LabViewers.Dec()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go readPump(conn, cancel)

	monitor := sessiontimer.NewMonitor(ctx, timer, h.interval)
	defer monitor.Stop()

	h.logger.Debug("Countdown feed opened", "profile_id", timer.ProfileID(), "window_id", timer.WindowID())
	h.writePump(ctx, conn, timer, monitor)
	h.logger.Debug("Countdown feed closed", "profile_id", timer.ProfileID(), "window_id", timer.WindowID())
}

func (h *FeedHandler) writePump(ctx context.Context, conn *websocket.Conn, timer *sessiontimer.Timer, monitor *sessiontimer.Monitor) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-h.closing:
			// The session stays intact; the page reconnects to another instance.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return

		case ev, ok := <-monitor.Events():
			if !ok {
				return
			}

			if ev.Kind == sessiontimer.EventExpired && ev.Status.IsExhausted {
				// Expiry destroys the session for every window of the profile.
				if err := timer.ResetAll(context.WithoutCancel(ctx)); err != nil {
					h.logger.Warn("Could not clear expired session", "profile_id", timer.ProfileID(), "error", err)
				}
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(newFeedMessage(ev)); err != nil {
				h.logger.Debug("Countdown feed write failed", "error", err)
				return
			}

			if ev.Kind != sessiontimer.EventTick {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Kind)),
					time.Now().Add(writeWait))
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newFeedMessage(ev sessiontimer.Event) FeedMessage {
	return FeedMessage{
		Type:        ev.Kind,
		Remaining:   domain.FormatRemaining(ev.Status.Remaining()),
		RemainingMs: ev.Status.RemainingMs,
		ExpiresAt:   ev.Status.ExpiresAt,
		Timestamp:   ev.At,
	}
}

// sameOrigin accepts upgrades without an Origin header or from the host
// that served the page.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
