// File: internal/proxy/handler.go
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zetavg/session-proxy/internal/browser"
	"github.com/zetavg/session-proxy/internal/fetch"
	"github.com/zetavg/session-proxy/internal/session"
)

// hop-by-hop headers are connection-scoped and must not be forwarded.
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Handler serves the proxy endpoint. Each request is dispatched to either a
// direct streaming fetch with injected cookies or a full browser render in
// the session's cached context, based on the upstream content type.
type Handler struct {
	store      *session.Store
	locks      *session.PathLocks
	fetcher    *fetch.Fetcher
	cache      *browser.ContextCache
	navTimeout time.Duration
	log        *zap.Logger
}

// NewHandler assembles the request router from its collaborators.
func NewHandler(store *session.Store, locks *session.PathLocks, fetcher *fetch.Fetcher, cache *browser.ContextCache, navTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		store:      store,
		locks:      locks,
		fetcher:    fetcher,
		cache:      cache,
		navTimeout: navTimeout,
		log:        logger.Named("proxy"),
	}
}

// ServeHTTP handles GET /v1?session=<name-or-path>&url=<target>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("Recovered from panic in request handler.", zap.Any("panic", rec))
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	sessionName := r.URL.Query().Get("session")
	rawURL := r.URL.Query().Get("url")
	if sessionName == "" || rawURL == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing required query parameters: session, url")
		return
	}

	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("invalid target url %q", rawURL))
		return
	}

	sessionPath := h.store.ResolvePath(sessionName)
	log := h.log.With(zap.String("session_path", sessionPath), zap.String("target", rawURL))

	rec, err := h.store.Load(sessionPath)
	switch {
	case errors.Is(err, session.ErrNotFound):
		// An uninitialized session degrades to an unauthenticated fetch on
		// the direct path; only rendering hard-requires stored state.
		rec = session.NewRecord()
	case err != nil:
		log.Error("Failed to load session record.", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cookieHeader := session.CookieHeader(session.MatchCookies(rec.Cookies, target, time.Now()))

	resp, err := h.fetcher.Do(r.Context(), rawURL, cookieHeader)
	if err != nil {
		log.Error("Direct fetch failed.", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if isHTML(resp.Header.Get("Content-Type")) {
		// The rendered document supersedes the raw body; drop it unread.
		_ = resp.Body.Close()
		h.render(w, log, sessionPath, rawURL)
		return
	}
	h.stream(w, log, sessionPath, target, resp)
}

// stream forwards a non-HTML upstream response to the client unmodified,
// merging any Set-Cookie directives into the session record first.
func (h *Handler) stream(w http.ResponseWriter, log *zap.Logger, sessionPath string, target *url.URL, resp *http.Response) {
	defer func() {
		_ = resp.Body.Close()
	}()

	if directives := resp.Header.Values("Set-Cookie"); len(directives) > 0 {
		h.persistDirectives(log, sessionPath, directives, target)
	}

	header := w.Header()
	for name, values := range resp.Header {
		if _, hop := hopByHopHeaders[http.CanonicalHeaderKey(name)]; hop {
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.Header.Get("Content-Disposition") == "" && !isTextual(contentType) {
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadFilename(target)))
	}

	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// Headers are already out; the connection just dies mid-stream.
		log.Warn("Stream to client interrupted.", zap.Error(err))
	}
}

// persistDirectives applies inbound Set-Cookie headers to the session file.
// The record is re-read under the path lock so concurrent requests against
// the same session cannot lose each other's merges. Failure is logged, never
// fatal to the response.
func (h *Handler) persistDirectives(log *zap.Logger, sessionPath string, directives []string, target *url.URL) {
	unlock := h.locks.Lock(sessionPath)
	defer unlock()

	rec, err := h.store.Load(sessionPath)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			log.Warn("Failed to reload session record for merge.", zap.Error(err))
			return
		}
		rec = session.NewRecord()
	}

	session.MergeSetCookies(rec, directives, target)
	if err := h.store.Save(sessionPath, rec); err != nil {
		log.Warn("Failed to persist merged session record.", zap.Error(err))
	}
}

// render serves the target through the session's cached browser context and
// persists the context's full storage state afterwards.
func (h *Handler) render(w http.ResponseWriter, log *zap.Logger, sessionPath, rawURL string) {
	bctx, err := h.cache.GetOrCreate(sessionPath)
	if err != nil {
		log.Error("Failed to obtain browser context.", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := browser.RenderPage(bctx, rawURL, h.navTimeout)
	if err != nil {
		log.Error("Render failed.", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Full state capture supersedes header-level cookie merging: it includes
	// cookies and storage written by script during the render.
	unlock := h.locks.Lock(sessionPath)
	if err := bctx.PersistState(sessionPath); err != nil {
		log.Warn("Failed to persist session state after render.", zap.Error(err))
	}
	unlock()

	w.Header().Set("Content-Type", result.ContentType)
	w.WriteHeader(result.Status)
	if _, err := io.WriteString(w, result.HTML); err != nil {
		log.Warn("Failed to write rendered content.", zap.Error(err))
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func isTextual(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/json",
		mediaType == "application/javascript",
		mediaType == "application/xml",
		mediaType == "application/xhtml+xml":
		return true
	case strings.HasSuffix(mediaType, "+json"), strings.HasSuffix(mediaType, "+xml"):
		return true
	}
	return false
}

// downloadFilename derives an attachment filename from the target URL's last
// path segment.
func downloadFilename(target *url.URL) string {
	name := path.Base(target.Path)
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
