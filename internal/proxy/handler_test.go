// File: internal/proxy/handler_test.go
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zetavg/session-proxy/internal/browser"
	"github.com/zetavg/session-proxy/internal/config"
	"github.com/zetavg/session-proxy/internal/fetch"
	"github.com/zetavg/session-proxy/internal/session"
)

type stubResponse struct {
	status      int
	contentType string
}

func (r *stubResponse) Status() int { return r.status }

func (r *stubResponse) HeaderValue(name string) (string, error) {
	if strings.EqualFold(name, "content-type") {
		return r.contentType, nil
	}
	return "", nil
}

type stubPage struct {
	html    string
	gotoErr error
	closed  bool
}

func (p *stubPage) Goto(url string, options ...playwright.PageGotoOptions) (browser.NavigationResponse, error) {
	if p.gotoErr != nil {
		return nil, p.gotoErr
	}
	return &stubResponse{status: http.StatusOK, contentType: "text/html; charset=utf-8"}, nil
}

func (p *stubPage) Content() (string, error) { return p.html, nil }

func (p *stubPage) Close() error {
	p.closed = true
	return nil
}

type stubContext struct {
	mu        sync.Mutex
	html      string
	pages     []*stubPage
	persisted []string
	closed    bool
}

func (c *stubContext) NewPage() (browser.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page := &stubPage{html: c.html}
	c.pages = append(c.pages, page)
	return page, nil
}

func (c *stubContext) PersistState(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persisted = append(c.persisted, path)
	return nil
}

func (c *stubContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fixture struct {
	store        *session.Store
	router       http.Handler
	cache        *browser.ContextCache
	renderedHTML string
	factoryCalls atomic.Int64
	contexts     []*stubContext
	mu           sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{renderedHTML: "<html><body>rendered</body></html>"}

	logger := zap.NewNop()
	f.store = session.NewStore(t.TempDir(), logger)
	locks := session.NewPathLocks()
	fetcher := fetch.New(config.NetworkConfig{FetchTimeout: 10 * time.Second, MaxRedirects: 20}, logger)

	factory := func(sessionPath string) (browser.Context, error) {
		f.factoryCalls.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		ctx := &stubContext{html: f.renderedHTML}
		f.contexts = append(f.contexts, ctx)
		return ctx, nil
	}
	f.cache = browser.NewContextCache(f.store, locks, factory, 0, logger)

	handler := NewHandler(f.store, locks, fetcher, f.cache, 60*time.Second, logger)
	f.router = NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, handler, logger).Router()
	return f
}

func (f *fixture) get(t *testing.T, sessionName, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1?session="+sessionName+"&url="+url.QueryEscape(target), nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func seedRecord(t *testing.T, f *fixture, name string, cookies ...session.Cookie) string {
	t.Helper()
	rec := session.NewRecord()
	rec.Cookies = append(rec.Cookies, cookies...)
	path := f.store.ResolvePath(name)
	require.NoError(t, f.store.Save(path, rec))
	return path
}

func TestMissingParameters(t *testing.T) {
	f := newFixture(t)

	for _, query := range []string{"", "?session=foo", "?url=http%3A%2F%2Fexample.com"} {
		req := httptest.NewRequest(http.MethodGet, "/v1"+query, nil)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, "query %q", query)
		assert.JSONEq(t, `{"error": "Missing required query parameters: session, url"}`, w.Body.String())
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/other", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestWrongMethodRejected(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1?session=a&url=b", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDirectStreamSynthesizesDisposition(t *testing.T) {
	f := newFixture(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer upstream.Close()

	w := f.get(t, "github", upstream.URL+"/files/report.pdf")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="report.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.7 fake", w.Body.String())
	assert.Zero(t, f.factoryCalls.Load(), "streaming must not create a browser context")
}

func TestDirectStreamFallbackFilename(t *testing.T) {
	f := newFixture(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
	}))
	defer upstream.Close()

	w := f.get(t, "github", upstream.URL+"/")

	assert.Equal(t, `attachment; filename="download"`, w.Header().Get("Content-Disposition"))
}

func TestDirectStreamKeepsUpstreamDisposition(t *testing.T) {
	f := newFixture(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="archive.zip"`)
	}))
	defer upstream.Close()

	w := f.get(t, "github", upstream.URL+"/dl")

	assert.Equal(t, `attachment; filename="archive.zip"`, w.Header().Get("Content-Disposition"))
}

func TestDirectStreamTextualNoDisposition(t *testing.T) {
	f := newFixture(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	w := f.get(t, "github", upstream.URL+"/api")

	assert.Empty(t, w.Header().Get("Content-Disposition"))
	assert.Equal(t, `{"ok":true}`, w.Body.String())
}

func TestDirectStreamForwardsStatus(t *testing.T) {
	f := newFixture(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "denied")
	}))
	defer upstream.Close()

	w := f.get(t, "github", upstream.URL+"/secret.txt")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "denied", w.Body.String())
}

func TestDirectFetchInjectsMatchingCookies(t *testing.T) {
	f := newFixture(t)

	var gotCookie string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		w.Header().Set("Content-Type", "text/plain")
	}))
	defer upstream.Close()

	host := strings.TrimPrefix(upstream.URL, "http://")
	host = host[:strings.LastIndex(host, ":")]
	seedRecord(t, f, "github",
		session.Cookie{Name: "sid", Value: "abc123", Domain: host, Path: "/"},
		session.Cookie{Name: "other", Value: "x", Domain: "unrelated.example.com", Path: "/"},
		session.Cookie{Name: "locked", Value: "y", Domain: host, Path: "/", Secure: true},
	)

	w := f.get(t, "github", upstream.URL+"/page.txt")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sid=abc123", gotCookie, "only domain-matching non-secure cookies go over http")
}

func TestDirectFetchMissingSessionDegrades(t *testing.T) {
	f := newFixture(t)

	var gotCookie string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "public")
	}))
	defer upstream.Close()

	w := f.get(t, "no-such-session", upstream.URL+"/page.txt")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, gotCookie)
	assert.Equal(t, "public", w.Body.String())
}

func TestDirectFetchMergesSetCookie(t *testing.T) {
	f := newFixture(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "sid=fresh; Path=/; HttpOnly")
		w.Header().Set("Content-Type", "text/plain")
	}))
	defer upstream.Close()

	w := f.get(t, "newborn", upstream.URL+"/login-callback")
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := f.store.Load(f.store.ResolvePath("newborn"))
	require.NoError(t, err, "first merge must create the session file")
	require.Len(t, rec.Cookies, 1)
	assert.Equal(t, "sid", rec.Cookies[0].Name)
	assert.Equal(t, "fresh", rec.Cookies[0].Value)
	assert.True(t, rec.Cookies[0].HTTPOnly)
}

func TestCorruptSessionFileFailsRequest(t *testing.T) {
	f := newFixture(t)
	path := f.store.ResolvePath("broken")
	require.NoError(t, f.store.Save(path, session.NewRecord()))
	writeRaw(t, path, "{not json")

	w := f.get(t, "broken", "http://example.com/a")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestUpstreamTransportErrorReturns500(t *testing.T) {
	f := newFixture(t)

	// Grab a port that nothing listens on.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	w := f.get(t, "github", deadURL+"/x")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestRenderPathServesRenderedContent(t *testing.T) {
	f := newFixture(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<html><body>raw, pre-script</body></html>")
	}))
	defer upstream.Close()

	path := seedRecord(t, f, "github")

	w := f.get(t, "github", upstream.URL+"/dashboard")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, f.renderedHTML, w.Body.String(), "client gets rendered content, not the raw fetch body")
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))

	require.Equal(t, int64(1), f.factoryCalls.Load())
	ctx := f.contexts[0]
	assert.Equal(t, []string{path}, ctx.persisted, "render must persist full context state")
	require.Len(t, ctx.pages, 1)
	assert.True(t, ctx.pages[0].closed, "render pages are always closed")
}

func TestRenderPathReusesContext(t *testing.T) {
	f := newFixture(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	}))
	defer upstream.Close()

	seedRecord(t, f, "github")

	for i := 0; i < 2; i++ {
		w := f.get(t, "github", fmt.Sprintf("%s/page-%d", upstream.URL, i))
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, int64(1), f.factoryCalls.Load(), "both renders must share one context")
	assert.Equal(t, 1, f.cache.Len())
}

func TestRenderWithoutSessionFileFails(t *testing.T) {
	f := newFixture(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	}))
	defer upstream.Close()

	w := f.get(t, "never-initialized", upstream.URL+"/app")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "previously initialized session")
	assert.Zero(t, f.factoryCalls.Load())
}
