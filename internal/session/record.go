// File: internal/session/record.go

// Package session owns the persisted authentication state of the proxy: the
// cookie matching and merging algorithms, and the file-backed store that
// round-trips records in the browser engine's storage-state format.
package session

import "encoding/json"

// Cookie is a single browser cookie as persisted in a session file. Field
// names follow the storage-state JSON written by the browser engine, so files
// produced by either side are interchangeable.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
	// Expires is the expiry in epoch seconds. Zero or negative means a
	// session cookie with no expiry.
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Key identifies a cookie for replace-vs-append decisions during a merge.
type Key struct {
	Name   string
	Domain string
	Path   string
}

// Key returns the cookie's merge identity.
func (c Cookie) Key() Key {
	return Key{Name: c.Name, Domain: c.Domain, Path: c.Path}
}

// Record is the unit of persisted authentication state for one named
// session: its cookies plus an opaque per-origin storage snapshot owned by
// the browser engine's serialization format and passed through unmodified.
type Record struct {
	Cookies []Cookie        `json:"cookies"`
	Origins json.RawMessage `json:"origins,omitempty"`
}

// NewRecord returns an empty record with a non-nil cookie sequence, so a
// saved record is always valid JSON with at least an empty cookies array.
func NewRecord() *Record {
	return &Record{Cookies: []Cookie{}}
}
