// File: internal/fetch/fetcher.go

// Package fetch performs direct HTTP fetches with injected session cookies,
// bypassing the browser engine entirely.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/zetavg/session-proxy/internal/config"
)

// Fetcher issues cookie-injected GETs and follows redirects manually so the
// terminal response comes back unconsumed, leaving the caller free to stream
// or discard the body.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxRedirects int
	log          *zap.Logger
}

// New creates a fetcher from the network configuration. A zero FetchTimeout
// leaves the client unbounded.
func New(cfg config.NetworkConfig, logger *zap.Logger) *Fetcher {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 20
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.FetchTimeout,
			// Redirects are handled manually for full control over the
			// Location resolution and header injection on each hop.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent:    userAgent,
		maxRedirects: maxRedirects,
		log:          logger.Named("fetch"),
	}
}

// Do performs a GET against rawURL with the given Cookie header value,
// following redirects up to the configured cap. Transport failures are
// surfaced to the caller, not retried. The returned response body is
// unconsumed and must be closed by the caller.
func (f *Fetcher) Do(ctx context.Context, rawURL, cookieHeader string) (*http.Response, error) {
	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL %q: %w", rawURL, err)
	}

	for hop := 0; hop <= f.maxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request for %q: %w", current.String(), err)
		}
		f.prepareHeaders(req, cookieHeader)

		f.log.Debug("Executing direct fetch", zap.String("url", current.String()), zap.Int("hop", hop))
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			if location == "" {
				// A 3xx without Location is the terminal response.
				return resp, nil
			}
			next, err := current.Parse(location)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to parse redirect Location %q: %w", location, err)
			}
			current = next
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("maximum number of redirects (%d) exceeded fetching %q", f.maxRedirects, rawURL)
}

func (f *Fetcher) prepareHeaders(req *http.Request, cookieHeader string) {
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}
}
