// File: internal/session/merge.go
package session

import (
	"net/http"
	"net/url"
	"strings"
)

// MergeSetCookies applies raw Set-Cookie directives from a response for the
// target URL to the record, in the order received. A parsed cookie replaces
// an existing one with the same (name, domain, path) key, otherwise it is
// appended; later directives for the same key in one batch win.
func MergeSetCookies(rec *Record, directives []string, target *url.URL) {
	for _, directive := range directives {
		c, ok := ParseSetCookie(directive, target)
		if !ok {
			continue
		}
		rec.upsert(c)
	}
}

func (r *Record) upsert(c Cookie) {
	key := c.Key()
	for i := range r.Cookies {
		if r.Cookies[i].Key() == key {
			r.Cookies[i] = c
			return
		}
	}
	r.Cookies = append(r.Cookies, c)
}

// ParseSetCookie parses one raw Set-Cookie directive. The first `;` segment
// is the name=value pair (split on the first `=` only); the rest are
// case-insensitive attributes. A missing domain defaults to the target host,
// a missing path to "/". Returns false for directives with no name or value.
func ParseSetCookie(directive string, target *url.URL) (Cookie, bool) {
	segments := strings.Split(directive, ";")

	name, value, ok := strings.Cut(strings.TrimSpace(segments[0]), "=")
	if !ok || name == "" {
		return Cookie{}, false
	}

	c := Cookie{
		Name:   name,
		Value:  value,
		Domain: strings.ToLower(target.Hostname()),
		Path:   "/",
	}

	for _, seg := range segments[1:] {
		attr, attrValue, _ := strings.Cut(strings.TrimSpace(seg), "=")
		switch strings.ToLower(attr) {
		case "domain":
			if attrValue != "" {
				c.Domain = strings.ToLower(attrValue)
			}
		case "path":
			if attrValue != "" {
				c.Path = attrValue
			}
		case "secure":
			c.Secure = true
		case "httponly":
			c.HTTPOnly = true
		case "expires":
			// An unparseable expiry is dropped, leaving a session cookie.
			if t, err := http.ParseTime(attrValue); err == nil {
				c.Expires = float64(t.Unix())
			}
		case "samesite":
			c.SameSite = attrValue
		}
	}

	return c, true
}
