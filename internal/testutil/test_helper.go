// Package testutil provides testing utilities and helpers.
package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

// NewTestRouter creates a new Gin router for testing.
func NewTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

// Response is a completed response with its body read.
type Response struct {
	*http.Response
	Body string
}

// Location returns the redirect target.
func (r *Response) Location() string {
	return r.Header.Get("Location")
}

// TestCase represents one navigation and its expected outcome.
type TestCase struct {
	Form             url.Values
	SetupFunc        func(t *testing.T, b *Browser)
	Name             string
	Method           string
	URL              string
	ExpectedLocation string
	ExpectedBody     []string
	ExpectedStatus   int
}

// Browser drives a handler over real HTTP with a cookie jar, like one
// browser profile. Redirects are not followed.
type Browser struct {
	server *httptest.Server
	client *http.Client
	t      *testing.T
}

// NewBrowser starts handler on a test server closed with the test.
func NewBrowser(t *testing.T, handler http.Handler) *Browser {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewBrowserFor(t, server)
}

// NewBrowserFor returns a browser with an empty cookie jar on an existing
// server. Browsers on the same server model separate profiles.
func NewBrowserFor(t *testing.T, server *httptest.Server) *Browser {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}

	return &Browser{
		server: server,
		t:      t,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Server returns the test server.
func (b *Browser) Server() *httptest.Server {
	return b.server
}

// Jar returns the browser's cookies.
func (b *Browser) Jar() http.CookieJar {
	return b.client.Jar
}

// Request performs an HTTP request and returns the response.
func (b *Browser) Request(method, path string, form url.Values, headers map[string]string) *Response {
	b.t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(context.Background(), method, b.server.URL+path, body)
	if err != nil {
		b.t.Fatalf("Failed to create request: %v", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		b.t.Fatalf("Failed to read response body: %v", err)
	}
	return &Response{Response: resp, Body: string(data)}
}

// GET performs a GET request.
func (b *Browser) GET(path string) *Response {
	b.t.Helper()
	return b.Request(http.MethodGet, path, nil, nil)
}

// POST submits form as application/x-www-form-urlencoded.
func (b *Browser) POST(path string, form url.Values) *Response {
	b.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	return b.Request(http.MethodPost, path, form, nil)
}

// Cookie returns the named cookie as the jar would send it, or nil.
func (b *Browser) Cookie(name string) *http.Cookie {
	u, err := url.Parse(b.server.URL)
	if err != nil {
		b.t.Fatalf("Failed to parse server URL: %v", err)
	}
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// AssertStatus asserts that the response has the expected status code.
func (b *Browser) AssertStatus(resp *Response, expectedStatus int) {
	b.t.Helper()
	if resp.StatusCode != expectedStatus {
		b.t.Errorf("Status code mismatch. Expected: %d, Actual: %d\nBody: %s", expectedStatus, resp.StatusCode, resp.Body)
	}
}

// AssertRedirect asserts a 303 to location.
func (b *Browser) AssertRedirect(resp *Response, location string) {
	b.t.Helper()
	b.AssertStatus(resp, http.StatusSeeOther)
	if got := resp.Location(); got != location {
		b.t.Errorf("Redirect mismatch. Expected: %s, Actual: %s", location, got)
	}
}

// AssertContains asserts that the body contains every fragment.
func (b *Browser) AssertContains(resp *Response, fragments ...string) {
	b.t.Helper()
	for _, fragment := range fragments {
		if !strings.Contains(resp.Body, fragment) {
			b.t.Errorf("Body does not contain %q\nBody: %s", fragment, resp.Body)
		}
	}
}

// RunTestCases runs each case in a fresh browser on the same server.
func RunTestCases(t *testing.T, server *httptest.Server, testCases []TestCase) {
	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			b := NewBrowserFor(t, server)
			if tc.SetupFunc != nil {
				tc.SetupFunc(t, b)
			}

			method := tc.Method
			if method == "" {
				method = http.MethodGet
			}
			resp := b.Request(method, tc.URL, tc.Form, nil)

			b.AssertStatus(resp, tc.ExpectedStatus)
			if tc.ExpectedLocation != "" && resp.Location() != tc.ExpectedLocation {
				t.Errorf("Redirect mismatch. Expected: %s, Actual: %s", tc.ExpectedLocation, resp.Location())
			}
			b.AssertContains(resp, tc.ExpectedBody...)
		})
	}
}
