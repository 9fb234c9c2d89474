package cache

import (
	"context"
	"time"
)

// Tier is the optional secondary cache tier: slower and larger than the
// memory tier, consulted on memory misses. Implementations must be safe for
// concurrent use. A Redis-backed implementation lives in cache/redistier.
type Tier interface {
	// Get returns the value and its remaining TTL. found=false on miss or
	// expiry; ttl<=0 with found=true means the copy has no deadline.
	Get(ctx context.Context, key string) (value []byte, ttl time.Duration, found bool, err error)

	// Put stores value under key with the given TTL (<=0 = no expiry).
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
