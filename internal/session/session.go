// Package session supplies the ambient credentials downstream requests are
// made with. Credentials are read, never written.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// CSRFCookie is the cookie whose value is echoed in the X-CSRF-Token header.
const CSRFCookie = "_csrf"

// ErrNoCredentials is returned when a source has nothing to offer.
var ErrNoCredentials = errors.New("no session credentials")

// Source yields the current session cookies.
type Source interface {
	Cookies(ctx context.Context) ([]*http.Cookie, error)
}

// Static serves a fixed cookie header.
type Static string

// Cookies implements Source.
func (s Static) Cookies(context.Context) ([]*http.Cookie, error) {
	return ParseCookieHeader(string(s)), nil
}

// File reads a cookie header from a file on every call so a refreshed session
// is picked up without restarting the bridge.
type File struct {
	Path string
}

// Cookies implements Source.
func (f File) Cookies(context.Context) ([]*http.Cookie, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	return ParseCookieHeader(string(b)), nil
}

// ParseCookieHeader parses a `name=value; name2=value2` string, as exposed by
// document.cookie. Malformed pairs are skipped.
func ParseCookieHeader(header string) []*http.Cookie {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	cookies, err := http.ParseCookie(header)
	if err == nil {
		return cookies
	}
	var out []*http.Cookie
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: name, Value: value})
	}
	return out
}

// CSRFToken returns the URL-decoded value of the CSRF cookie, or "" when the
// cookie is absent.
func CSRFToken(cookies []*http.Cookie) string {
	for _, c := range cookies {
		if c.Name != CSRFCookie {
			continue
		}
		if v, err := url.PathUnescape(c.Value); err == nil {
			return v
		}
		return c.Value
	}
	return ""
}

// Header renders cookies back into a Cookie header value.
func Header(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
