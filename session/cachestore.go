package session

import (
	"context"
	"time"
)

// CacheStore is the fast-lookup tier behind the session store. Values are
// opaque strings (JSON-encoded entities). An empty string means absent.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error

	// Take atomically reads and deletes an entry, so a value can be consumed
	// at most once even under concurrent callers.
	Take(ctx context.Context, key string) (string, error)

	Purge(ctx context.Context, key string) error
}
