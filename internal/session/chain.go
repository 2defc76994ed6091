package session

import (
	"context"
	"fmt"
	"net/http"
)

// FromConfig picks the credential source for the given settings. A Redis URL
// wins over a cookie file, which wins over a literal header. The returned
// close function releases any connection the source holds.
func FromConfig(ctx context.Context, header, file, redisURL, redisKey string) (Source, func() error, error) {
	nop := func() error { return nil }
	switch {
	case redisURL != "":
		r, err := NewRedis(ctx, redisURL, redisKey)
		if err != nil {
			return nil, nop, fmt.Errorf("cookie source: %w", err)
		}
		return r, r.Close, nil
	case file != "":
		return File{Path: file}, nop, nil
	default:
		return Static(header), nop, nil
	}
}

// Snapshot is what one command sees: the cookies plus the derived CSRF token.
type Snapshot struct {
	Cookies []*http.Cookie
	CSRF    string
}

// Load reads src once.
func Load(ctx context.Context, src Source) (Snapshot, error) {
	cookies, err := src.Cookies(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Cookies: cookies, CSRF: CSRFToken(cookies)}, nil
}
