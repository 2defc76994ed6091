package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis reads the cookie header from a single string key. Another process
// (for example the login helper) owns the key; the bridge only reads it.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis connects to the given Redis URL and verifies it is reachable.
func NewRedis(ctx context.Context, addr, key string) (*Redis, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: c, key: key}, nil
}

// Cookies implements Source.
func (r *Redis) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	v, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: redis key %q not set", ErrNoCredentials, r.key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", r.key, err)
	}
	return ParseCookieHeader(v), nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// parseRedisURL parses addr into UniversalOptions supporting single, cluster,
// and sentinel Redis deployments. If no scheme is present, addr is treated as
// a plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	dbFrom := func(s string) error {
		if s == "" {
			return nil
		}
		db, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("redis: invalid db: %v", err)
		}
		opts.DB = db
		return nil
	}
	switch u.Scheme {
	case "redis", "rediss":
		db := q.Get("db")
		if p := strings.TrimPrefix(u.Path, "/"); p != "" {
			db = p
		}
		if err := dbFrom(db); err != nil {
			return nil, err
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if err := dbFrom(q.Get("db")); err != nil {
			return nil, err
		}
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}
	if strings.HasPrefix(u.Scheme, "rediss") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}
