package cache

import (
	"context"
	"time"
)

// Cache is the minimal key-value contract the judge engine needs: live
// status snapshots with TTL. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}
