// Package cache provides expiring key-value stores for upstream access tokens
// and link previews. Entries are never returned past their expiry; a miss
// simply sends the caller down its re-fetch path.
package cache

import (
	"context"
	"strings"
	"time"
)

// Key namespaces.
const (
	KindToken   = "token"
	KindPreview = "preview"
)

// Store is an expiring key-value store.
type Store interface {
	// Get returns the value for key, or false if it is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key until ttl elapses.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key if present.
	Delete(ctx context.Context, key string) error
}

// Key builds a namespaced cache key, e.g. Key(KindToken, "a@b.c") -> "token:a@b.c".
func Key(kind string, parts ...string) string {
	return kind + ":" + strings.Join(parts, ":")
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
