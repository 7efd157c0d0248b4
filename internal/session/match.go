// File: internal/session/match.go
package session

import (
	"net/url"
	"strings"
	"time"
)

// MatchCookies filters a session's cookies down to the subset legally
// sendable on the target URL, preserving their original relative order.
// A cookie is included only if all of these hold:
//   - its domain (leading-dot normalized) equals or suffixes the target host,
//   - the target path starts with the cookie path,
//   - it is not a secure cookie sent to a plaintext target,
//   - its expiry, when set, is not in the past.
func MatchCookies(cookies []Cookie, target *url.URL, now time.Time) []Cookie {
	var matched []Cookie
	for _, c := range cookies {
		if !domainMatches(c.Domain, target.Hostname()) {
			continue
		}
		if !pathMatches(c.Path, target.Path) {
			continue
		}
		if c.Secure && target.Scheme != "https" {
			continue
		}
		if c.Expires > 0 && c.Expires < float64(now.Unix()) {
			continue
		}
		matched = append(matched, c)
	}
	return matched
}

// CookieHeader renders matched cookies as a Cookie header value, or the empty
// string when nothing matched.
func CookieHeader(cookies []Cookie) string {
	if len(cookies) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}

// domainMatches applies standard leading-dot domain matching: the dotted
// target host must equal or end with the dotted cookie domain.
func domainMatches(cookieDomain, host string) bool {
	if cookieDomain == "" || host == "" {
		return false
	}
	d := strings.ToLower(cookieDomain)
	if !strings.HasPrefix(d, ".") {
		d = "." + d
	}
	h := "." + strings.ToLower(host)
	return h == d || strings.HasSuffix(h, d)
}

func pathMatches(cookiePath, targetPath string) bool {
	if cookiePath == "" {
		cookiePath = "/"
	}
	if targetPath == "" {
		targetPath = "/"
	}
	return strings.HasPrefix(targetPath, cookiePath)
}
