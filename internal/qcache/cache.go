// Package qcache caches compiled read results per record space. Writes
// invalidate a whole space by bumping its generation, which every key
// embeds; entries also expire after a TTL.
package qcache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/shelf/internal/metrics"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

const keyPrefix = "shelf:"

// Cache is the query cache. Driver failures never fail a read: they are
// logged and treated as a miss.
type Cache struct {
	driver types.CacheDriver
	ttl    time.Duration
	logger *zap.Logger
}

// New returns a Cache over driver whose entries live for ttl.
func New(driver types.CacheDriver, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{driver: driver, ttl: ttl, logger: logger}
}

func generationKey(scope string) string {
	return keyPrefix + "gen:" + scope
}

// generation returns the current generation of scope. A scope never
// invalidated is generation 0.
func (c *Cache) generation(ctx context.Context, scope string) (int64, error) {
	raw, ok, err := c.driver.Get(ctx, generationKey(scope))
	if err != nil || !ok {
		return 0, err
	}
	gen, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing generation of %s: %w", scope, err)
	}
	return gen, nil
}

// Key derives the cache key of a compiled filter and its options within
// scope. It fails only when the driver does.
func (c *Cache) Key(ctx context.Context, scope string, filter types.Filter, opts *types.FindOptions) (string, error) {
	gen, err := c.generation(ctx, scope)
	if err != nil {
		metrics.QueryCache(metrics.Error)
		c.warn("reading cache generation", scope, err)
		return "", err
	}
	payload, err := json.Marshal(struct {
		Filter  types.Filter       `json:"f"`
		Options *types.FindOptions `json:"o"`
	}{filter, opts})
	if err != nil {
		return "", fmt.Errorf("encoding cache key: %w", err)
	}
	sum := xxh3.Hash128(payload)
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], sum.Hi)
	binary.BigEndian.PutUint64(b[8:16], sum.Lo)
	return fmt.Sprintf("%sq:%s:%d:%s", keyPrefix, scope, gen, hex.EncodeToString(b)), nil
}

// Get returns the cached result under key. An entry that no longer decodes
// is evicted.
func (c *Cache) Get(ctx context.Context, key string) ([]types.Document, bool) {
	raw, ok, err := c.driver.Get(ctx, key)
	if err != nil {
		metrics.QueryCache(metrics.Error)
		c.warn("reading cache entry", key, err)
		return nil, false
	}
	if !ok {
		metrics.QueryCache(metrics.Miss)
		return nil, false
	}
	var docs []types.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		metrics.QueryCache(metrics.Error)
		c.warn("decoding cache entry", key, err)
		if err := c.driver.Delete(ctx, key); err != nil {
			c.warn("evicting cache entry", key, err)
		}
		return nil, false
	}
	metrics.QueryCache(metrics.Hit)
	return docs, true
}

// Put stores docs under key for the cache TTL.
func (c *Cache) Put(ctx context.Context, key string, docs []types.Document) {
	raw, err := json.Marshal(docs)
	if err != nil {
		c.warn("encoding cache entry", key, err)
		return
	}
	if err := c.driver.Set(ctx, key, raw, c.ttl); err != nil {
		c.warn("writing cache entry", key, err)
	}
}

// Invalidate drops every entry of scope. Old entries stay in the driver
// until they expire but can no longer be addressed.
func (c *Cache) Invalidate(ctx context.Context, scope string) error {
	if _, err := c.driver.Incr(ctx, generationKey(scope)); err != nil {
		c.warn("invalidating cache scope", scope, err)
		return fmt.Errorf("invalidating %s: %w", scope, err)
	}
	metrics.CacheInvalidated()
	return nil
}

func (c *Cache) warn(msg, key string, err error) {
	c.logger.Warn(msg, zap.String("key", key), zap.Error(err))
}
