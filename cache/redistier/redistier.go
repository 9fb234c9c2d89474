// Package redistier implements the cache's secondary tier on Redis.
// Entries are mirrored under a configurable key prefix with the entry TTL
// mapped onto Redis expiry, so the tier never serves a stale copy.
package redistier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IvanBrykalov/gatedstore/cache"
)

const defaultPrefix = "gatedstore:"

// Tier is a Redis-backed cache.Tier. Safe for concurrent use.
type Tier struct {
	client *redis.Client
	prefix string
}

// Connect dials Redis from a URL ("redis://host:port/db") or a bare address.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// New wraps client as a Tier. An empty prefix uses the default.
func New(client *redis.Client, prefix string) *Tier {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Tier{client: client, prefix: prefix}
}

func (t *Tier) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	rk := t.prefix + key
	pipe := t.client.Pipeline()
	getCmd := pipe.Get(ctx, rk)
	ttlCmd := pipe.TTL(ctx, rk)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	val, err := getCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	// TTL returns -1 for keys without expiry; report "no deadline" as 0.
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return val, ttl, true, nil
}

func (t *Tier) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0 // redis: 0 = no expiry
	}
	if err := t.client.Set(ctx, t.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (t *Tier) Delete(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

var _ cache.Tier = (*Tier)(nil)
