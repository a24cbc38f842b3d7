package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/hairscope-lab/internal/api"
	"github.com/ericfisherdev/hairscope-lab/internal/api/middleware"
	"github.com/ericfisherdev/hairscope-lab/internal/auth"
	"github.com/ericfisherdev/hairscope-lab/internal/guard"
	"github.com/ericfisherdev/hairscope-lab/internal/logging"
	"github.com/ericfisherdev/hairscope-lab/internal/services"
	"github.com/ericfisherdev/hairscope-lab/internal/sessiontimer"
	"github.com/ericfisherdev/hairscope-lab/internal/storage"
	"github.com/ericfisherdev/hairscope-lab/internal/testutil"
)

var passPattern = regexp.MustCompile(`name="pass" value="([^"]+)"`)

type labFixture struct {
	browser *testutil.Browser
	clock   *clockwork.FakeClock
	lab     *api.LabHandler
}

func newLabFixture(t *testing.T, lockout bool) *labFixture {
	t.Helper()
	testutil.NewTestRouter()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	logger := logging.Discard()
	backend := storage.NewMemoryBackend(storage.WithMemoryClock(clock), storage.WithMemoryLogger(logger))

	provider := sessiontimer.NewProvider(backend, nil,
		sessiontimer.WithAllocation(10*time.Minute),
		sessiontimer.WithClock(clock),
		sessiontimer.WithLogger(logger),
	)
	passes := auth.NewEntryPass(strings.Repeat("p", 32), time.Minute, clock, backend)

	lab := api.NewLabHandler(provider, auth.NewChecker("", ""), passes, guard.New(logger), api.LabConfig{
		PollInterval:        50 * time.Millisecond,
		LockoutOnExhaustion: lockout,
	}, logger)

	router, _, err := api.SetupRouter(context.Background(), api.RouterConfig{
		Lab:         lab,
		Health:      services.NewHealthService("test", "development"),
		Build:       api.BuildInfo{Version: "test"},
		CookieStore: middleware.NewCookieStore(strings.Repeat("c", 32), false),
		Logger:      logger,
	})
	require.NoError(t, err)

	return &labFixture{
		browser: testutil.NewBrowser(t, router),
		clock:   clock,
		lab:     lab,
	}
}

func validLogin() url.Values {
	return url.Values{"username": {auth.DefaultUsername}, "password": {auth.DefaultPassword}}
}

// signIn logs in and redeems the entry pass, leaving the browser in the lab.
func (f *labFixture) signIn(t *testing.T) {
	t.Helper()
	b := f.browser

	b.AssertStatus(b.GET("/"), http.StatusOK)

	resp := b.POST("/login", validLogin())
	b.AssertStatus(resp, http.StatusOK)
	b.AssertContains(resp, "Access Granted")

	match := passPattern.FindStringSubmatch(resp.Body)
	require.Len(t, match, 2, "transition carries the entry pass")

	b.AssertRedirect(b.POST("/enter", url.Values{"pass": {match[1]}}), "/lab")
}

func TestLabFlow_SignInAndUseLab(t *testing.T) {
	f := newLabFixture(t, true)
	b := f.browser

	login := b.GET("/")
	b.AssertStatus(login, http.StatusOK)
	b.AssertContains(login, "HairScope Lab", `action="/login"`, "Sign In")
	assert.Equal(t, "no-store", login.Header.Get("Cache-Control"))
	require.NotNil(t, b.Cookie(middleware.ProfileCookieName))
	require.NotNil(t, b.Cookie(middleware.WindowCookieName))

	b.AssertRedirect(b.GET("/lab"), "/")

	f.signIn(t)

	lab := b.GET("/lab")
	b.AssertStatus(lab, http.StatusOK)
	b.AssertContains(lab, "Time Remaining:", "10:00", "Lab Content", "Exit Lab")

	b.AssertRedirect(b.GET("/"), "/lab")

	f.clock.Advance(3*time.Minute + 30*time.Second)
	b.AssertContains(b.GET("/lab"), "6:30")

	status := b.GET("/api/session/status")
	b.AssertStatus(status, http.StatusOK)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Remaining string `json:"remaining"`
			State     string `json:"state"`
			Status    struct {
				RemainingMs int64 `json:"remaining_ms"`
				IsValid     bool  `json:"is_valid"`
			} `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(status.Body), &body))
	assert.True(t, body.Success)
	assert.Equal(t, string(guard.StateAuthenticated), body.Data.State)
	assert.Equal(t, "6:30", body.Data.Remaining)
	assert.Equal(t, (6*time.Minute + 30*time.Second).Milliseconds(), body.Data.Status.RemainingMs)
}

func TestLabFlow_ExpiryLocksOut(t *testing.T) {
	f := newLabFixture(t, true)
	b := f.browser
	f.signIn(t)

	f.clock.Advance(10*time.Minute + time.Second)

	b.AssertRedirect(b.GET("/lab"), "/")

	restricted := b.GET("/")
	b.AssertStatus(restricted, http.StatusForbidden)
	b.AssertContains(restricted, "Access Restricted", "Please contact support for assistance.")

	again := b.POST("/login", validLogin())
	b.AssertStatus(again, http.StatusForbidden)
	b.AssertContains(again, "Access Restricted")
}

func TestLabFlow_ResumeKeepsDeadline(t *testing.T) {
	f := newLabFixture(t, true)
	b := f.browser
	f.signIn(t)

	f.clock.Advance(4 * time.Minute)

	// A second sign-in from the same profile resumes instead of restarting.
	resp := b.POST("/login", validLogin())
	match := passPattern.FindStringSubmatch(resp.Body)
	require.Len(t, match, 2)
	b.AssertRedirect(b.POST("/enter", url.Values{"pass": {match[1]}}), "/lab")

	b.AssertContains(b.GET("/lab"), "6:00")
}

func TestLabFlow_ExitEndsSession(t *testing.T) {
	t.Run("lockout on", func(t *testing.T) {
		f := newLabFixture(t, true)
		b := f.browser
		f.signIn(t)

		b.AssertRedirect(b.POST("/lab/exit", nil), "/?exit=1")

		landing := b.GET("/?exit=1")
		b.AssertStatus(landing, http.StatusForbidden)
		b.AssertContains(landing, "You have left the lab.")

		b.AssertRedirect(b.GET("/lab"), "/")
	})

	t.Run("lockout off", func(t *testing.T) {
		f := newLabFixture(t, false)
		b := f.browser
		f.signIn(t)

		b.AssertRedirect(b.POST("/lab/exit", nil), "/?exit=1")

		landing := b.GET("/?exit=1")
		b.AssertStatus(landing, http.StatusOK)
		b.AssertContains(landing, "Your previous lab session has ended.", `action="/login"`)

		f.signIn(t)
		b.AssertContains(b.GET("/lab"), "10:00")
	})
}

func TestLabFlow_EntryPassIsSingleUse(t *testing.T) {
	f := newLabFixture(t, true)
	b := f.browser

	b.GET("/")
	resp := b.POST("/login", validLogin())
	match := passPattern.FindStringSubmatch(resp.Body)
	require.Len(t, match, 2)
	pass := url.Values{"pass": {match[1]}}

	b.AssertRedirect(b.POST("/enter", pass), "/lab")
	b.AssertRedirect(b.POST("/enter", pass), "/")

	other := testutil.NewBrowserFor(t, b.Server())
	other.GET("/")
	other.AssertRedirect(other.POST("/enter", pass), "/")
	other.AssertRedirect(other.GET("/lab"), "/")
	other.AssertContains(other.GET("/"), "Your sign-in could not be completed.")
}

func TestLabFlow_EntryPassExpires(t *testing.T) {
	f := newLabFixture(t, true)
	b := f.browser

	b.GET("/")
	resp := b.POST("/login", validLogin())
	match := passPattern.FindStringSubmatch(resp.Body)
	require.Len(t, match, 2)

	f.clock.Advance(2 * time.Minute)
	b.AssertRedirect(b.POST("/enter", url.Values{"pass": {match[1]}}), "/")
	b.AssertRedirect(b.GET("/lab"), "/")
}

func TestLabFlow_LoginFailures(t *testing.T) {
	f := newLabFixture(t, true)

	testutil.RunTestCases(t, f.browser.Server(), []testutil.TestCase{
		{
			Name:           "wrong password",
			Method:         http.MethodPost,
			URL:            "/login",
			Form:           url.Values{"username": {auth.DefaultUsername}, "password": {"password@123"}},
			ExpectedStatus: http.StatusUnauthorized,
			ExpectedBody:   []string{auth.MessageInvalidCredentials, `value="Bhanuprasad"`},
		},
		{
			Name:           "wrong username case",
			Method:         http.MethodPost,
			URL:            "/login",
			Form:           url.Values{"username": {"bhanuprasad"}, "password": {auth.DefaultPassword}},
			ExpectedStatus: http.StatusUnauthorized,
			ExpectedBody:   []string{auth.MessageInvalidCredentials},
		},
		{
			Name:           "missing password",
			Method:         http.MethodPost,
			URL:            "/login",
			Form:           url.Values{"username": {auth.DefaultUsername}},
			ExpectedStatus: http.StatusBadRequest,
			ExpectedBody:   []string{"Please enter both username and password"},
		},
		{
			Name:           "empty form",
			Method:         http.MethodPost,
			URL:            "/login",
			Form:           url.Values{},
			ExpectedStatus: http.StatusBadRequest,
		},
		{
			Name:             "enter without pass",
			Method:           http.MethodPost,
			URL:              "/enter",
			Form:             url.Values{},
			ExpectedStatus:   http.StatusSeeOther,
			ExpectedLocation: "/",
		},
		{
			Name:             "lab without session",
			URL:              "/lab",
			ExpectedStatus:   http.StatusSeeOther,
			ExpectedLocation: "/",
		},
		{
			Name:             "unknown route",
			URL:              "/admin/settings",
			ExpectedStatus:   http.StatusSeeOther,
			ExpectedLocation: "/",
		},
	})

	b := f.browser
	b.POST("/login", url.Values{"username": {auth.DefaultUsername}, "password": {"nope"}})
	b.AssertRedirect(b.GET("/lab"), "/")
}

func TestLabFlow_StatusWithoutSession(t *testing.T) {
	f := newLabFixture(t, true)
	b := f.browser

	resp := b.GET("/api/session/status")
	b.AssertStatus(resp, http.StatusOK)
	b.AssertContains(resp, `"state":"unauthenticated"`, `"is_valid":false`)
}

func TestLabFlow_UnknownRouteInLab(t *testing.T) {
	f := newLabFixture(t, true)
	b := f.browser
	f.signIn(t)

	b.AssertRedirect(b.GET("/does-not-exist"), "/")
	b.AssertStatus(b.GET("/lab"), http.StatusOK)
}

func dialFeed(t *testing.T, b *testutil.Browser) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(b.Server().URL, "http") + "/lab/ws"
	dialer := websocket.Dialer{Jar: b.Jar(), HandshakeTimeout: 2 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFeed(t *testing.T, conn *websocket.Conn) api.FeedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg api.FeedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestCountdownFeed_TickThenExpiry(t *testing.T) {
	f := newLabFixture(t, true)
	b := f.browser
	f.signIn(t)

	conn := dialFeed(t, b)

	first := readFeed(t, conn)
	assert.Equal(t, sessiontimer.EventTick, first.Type)
	assert.Equal(t, "10:00", first.Remaining)

	f.clock.Advance(10*time.Minute + time.Second)

	var last api.FeedMessage
	for last.Type != sessiontimer.EventExpired {
		last = readFeed(t, conn)
	}
	assert.Zero(t, last.RemainingMs)

	b.AssertStatus(b.GET("/"), http.StatusForbidden)
}

func TestCountdownFeed_ExitFromAnotherTab(t *testing.T) {
	f := newLabFixture(t, true)
	b := f.browser
	f.signIn(t)

	conn := dialFeed(t, b)
	assert.Equal(t, sessiontimer.EventTick, readFeed(t, conn).Type)

	b.AssertRedirect(b.POST("/lab/exit", nil), "/?exit=1")

	var last api.FeedMessage
	for last.Type == "" || last.Type == sessiontimer.EventTick {
		last = readFeed(t, conn)
	}
	assert.Contains(t, []sessiontimer.EventKind{sessiontimer.EventReset, sessiontimer.EventExpired}, last.Type)
}

func TestCountdownFeed_ServerShutdown(t *testing.T) {
	f := newLabFixture(t, true)
	b := f.browser
	f.signIn(t)

	conn := dialFeed(t, b)
	assert.Equal(t, sessiontimer.EventTick, readFeed(t, conn).Type)

	// server.Run registers CloseFeeds with http.Server.RegisterOnShutdown.
	f.lab.CloseFeeds()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	// The session outlives the feed.
	lab := b.GET("/lab")
	b.AssertStatus(lab, http.StatusOK)
	b.AssertContains(lab, "10:00")
}

func TestCountdownFeed_DeniedWithoutSession(t *testing.T) {
	f := newLabFixture(t, true)
	b := f.browser
	b.GET("/")

	wsURL := "ws" + strings.TrimPrefix(b.Server().URL, "http") + "/lab/ws"
	dialer := websocket.Dialer{Jar: b.Jar(), HandshakeTimeout: 2 * time.Second}

	_, resp, err := dialer.Dial(wsURL, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
