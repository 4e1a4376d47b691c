package todo

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const identityKeyPrefix = "sharedtodo:identity:"

// Cache wraps a Store with Redis-backed caching of identity lookups.
// Task reads always go to the wrapped store. Redis failures fall back to it.
type Cache struct {
	Store
	redis *redis.Client
	ttl   time.Duration
}

// cachedIdentity records misses as well as hits so unnamed visitors don't
// hit the database on every profile fetch.
type cachedIdentity struct {
	Found       bool    `json:"found"`
	DisplayName *string `json:"display_name,omitempty"`
}

// NewCache creates a caching wrapper around base.
func NewCache(base Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("todo.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Store: base, redis: client, ttl: ttl}
}

// GetIdentity serves from Redis when possible and fills it on a miss.
func (c *Cache) GetIdentity(ctx context.Context, identity string) (*Identity, error) {
	if rec, ok := c.load(ctx, identity); ok {
		return rec, nil
	}
	rec, err := c.Store.GetIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, identity, rec)
	return rec, nil
}

// UpsertDisplayName writes through and replaces the cached entry. If the
// replace fails the entry is evicted instead.
func (c *Cache) UpsertDisplayName(ctx context.Context, identity, name string) error {
	if err := c.Store.UpsertDisplayName(ctx, identity, name); err != nil {
		return err
	}
	raw, err := encodeIdentity(&Identity{ID: identity, DisplayName: &name})
	if err == nil {
		err = c.redis.Set(ctx, identityKeyPrefix+identity, raw, c.ttl).Err()
	}
	if err != nil {
		log.WithError(err).WithField("identity", identity).Warn("cache: store identity")
		if err := c.redis.Del(ctx, identityKeyPrefix+identity).Err(); err != nil {
			log.WithError(err).WithField("identity", identity).Warn("cache: evict identity")
		}
	}
	return nil
}

func (c *Cache) load(ctx context.Context, identity string) (*Identity, bool) {
	raw, err := c.redis.Get(ctx, identityKeyPrefix+identity).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).Debug("cache: load identity")
		}
		return nil, false
	}
	var entry cachedIdentity
	if err := sonic.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	if !entry.Found {
		return nil, true
	}
	return &Identity{ID: identity, DisplayName: entry.DisplayName}, true
}

// fill caches a value read from the store. It never overwrites an existing
// entry, so a slow read cannot replace a name written after it.
func (c *Cache) fill(ctx context.Context, identity string, rec *Identity) {
	raw, err := encodeIdentity(rec)
	if err != nil {
		return
	}
	if err := c.redis.SetNX(ctx, identityKeyPrefix+identity, raw, c.ttl).Err(); err != nil {
		log.WithError(err).Debug("cache: fill identity")
	}
}

func encodeIdentity(rec *Identity) ([]byte, error) {
	entry := cachedIdentity{Found: rec != nil}
	if rec != nil {
		entry.DisplayName = rec.DisplayName
	}
	return sonic.Marshal(entry)
}

// Close closes the wrapped store and the Redis client.
func (c *Cache) Close() error {
	err := c.Store.Close()
	if cerr := c.redis.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
