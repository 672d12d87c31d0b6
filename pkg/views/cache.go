package views

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arc-self/continuum/pkg/node"
)

// Cache memoises selector results keyed by (nodeId, selectorKey) (spec
// §4.7 "a cache layer MAY memoise selector results ... with explicit
// invalidation"), following the teacher's authz.go Redis idiom: a hash
// per key holding the JSON-encoded value plus an expiry, read with
// HGetAll and written with a HSet+Expire pipeline.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache wraps client with a default TTL applied to every cached
// entry (0 disables expiry).
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(nodeID, selectorKey string) string {
	return fmt.Sprintf("views:%s:%s", nodeID, selectorKey)
}

// lookup mirrors authz.go's "HGetAll → cached['allowed']=='true'" cache
// hit check, generalised to an arbitrary JSON value under the "value"
// field.
func (c *Cache) lookup(ctx context.Context, nodeID, selectorKey string) (any, bool) {
	cached, err := c.client.HGetAll(ctx, cacheKey(nodeID, selectorKey)).Result()
	if err != nil || cached["value"] == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(cached["value"]), &v); err != nil {
		return nil, false
	}
	return v, true
}

func (c *Cache) store(ctx context.Context, nodeID, selectorKey string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("views: encode cached value: %w", err)
	}
	pipe := c.client.Pipeline()
	key := cacheKey(nodeID, selectorKey)
	pipe.HSet(ctx, key, "value", encoded)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate drops the cached entry for (nodeID, selectorKey), the
// explicit-invalidation hook spec §4.7 requires on state mutation.
func (c *Cache) Invalidate(ctx context.Context, nodeID, selectorKey string) error {
	return c.client.Del(ctx, cacheKey(nodeID, selectorKey)).Err()
}

// GetCached is Get with a cache-then-compute-then-cache-write path:
// exactly the authz.go flow (cache hit → return; miss → compute →
// write-back), with selector standing in for that file's gRPC call.
func GetCached(ctx context.Context, cache *Cache, registry node.Registry, nodeID, selectorKey string, selector Selector) (any, bool) {
	if v, ok := cache.lookup(ctx, nodeID, selectorKey); ok {
		return v, true
	}
	v, ok := Get(registry, nodeID, selector)
	if !ok {
		return nil, false
	}
	_ = cache.store(ctx, nodeID, selectorKey, v)
	return v, true
}
