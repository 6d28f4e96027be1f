package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"concierge/internal/logging"
	appredis "concierge/internal/redis"
)

// Store is the minimal key-value surface the cache needs. The redis client
// satisfies it; tests use an in-memory map.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	DelByPrefix(ctx context.Context, prefix string) error
}

// ErrMiss is returned by Get when the key is absent or the cached payload
// cannot be decoded.
var ErrMiss = errors.New("cache miss")

// Cache stores JSON-encoded values with a fixed TTL. It is strictly an
// accelerator: every method degrades to a miss or a no-op when the backing
// store misbehaves, and the failure is logged rather than returned.
type Cache struct {
	store Store
	ttl   time.Duration
	log   zerolog.Logger
}

func New(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		store: store,
		ttl:   ttl,
		log:   logging.With("cache"),
	}
}

// Get decodes the cached value for key into out. Returns ErrMiss when the key
// is absent; store failures are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string, out interface{}) error {
	if c == nil || c.store == nil {
		return ErrMiss
	}
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, appredis.ErrCacheMiss) {
			c.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		return ErrMiss
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cached payload undecodable, dropping")
		if delErr := c.store.Del(ctx, key); delErr != nil {
			c.log.Warn().Err(delErr).Str("key", key).Msg("cache del failed")
		}
		return ErrMiss
	}
	return nil
}

// Set stores value under key with the cache TTL. Failures are logged, never
// surfaced.
func (c *Cache) Set(ctx context.Context, key string, value interface{}) {
	if c == nil || c.store == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := c.store.Set(ctx, key, string(raw), c.ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// Delete removes exact keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || c.store == nil || len(keys) == 0 {
		return
	}
	if err := c.store.Del(ctx, keys...); err != nil {
		c.log.Warn().Err(err).Strs("keys", keys).Msg("cache delete failed")
	}
}

// DeletePrefix removes every key under prefix. Used for paginated listings
// whose cursors make the exact key set unknowable.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.DelByPrefix(ctx, prefix); err != nil {
		c.log.Warn().Err(err).Str("prefix", prefix).Msg("cache prefix delete failed")
	}
}
