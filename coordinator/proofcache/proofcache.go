// Package proofcache mirrors ready proof block numbers into Redis,
// grounded on the teacher's go-redis/redis/v7 dependency as used by
// datasync/chaindatafetcher/kas's repository layer (a Redis-backed
// lookaside cache keyed by block/tx identifiers). Like eventbus, this
// is advisory only: spec.md's finalize step treats
// prover_requests[k].status as the sole source of truth, so the cache
// is never consulted to decide what to submit. It exists so an
// operator (or a second coordinator instance) can cheaply ask "has k
// been proven?" without re-deriving it from the prover.
package proofcache

import (
	"strconv"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"
)

// DefaultTTL bounds how long a cache entry survives, since the
// authoritative answer is always prover_requests, not Redis.
const DefaultTTL = 24 * time.Hour

// Cache wraps a redis.Client. A nil *Cache is valid and every method on
// it is a no-op, mirroring eventbus.Bus's "optional side channel"
// contract.
type Cache struct {
	client *redis.Client
}

// New dials addr and returns a Cache. Pass "" to get a nil Cache with
// no connection, for when REDIS_ADDR is unset.
func New(addr string) (*Cache, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping().Err(); err != nil {
		return nil, errors.Wrapf(err, "proofcache: ping %s", addr)
	}
	return &Cache{client: client}, nil
}

// MarkReady records that block k's proof is ready.
func (c *Cache) MarkReady(k uint64) error {
	if c == nil {
		return nil
	}
	key := cacheKey(k)
	if err := c.client.Set(key, "ready", DefaultTTL).Err(); err != nil {
		return errors.Wrapf(err, "proofcache: set %s", key)
	}
	return nil
}

// IsReady reports whether block k was last recorded as ready. A miss
// (key absent or cache disabled) returns false with a nil error; the
// caller must fall back to state.ProverSlot for the real answer.
func (c *Cache) IsReady(k uint64) (bool, error) {
	if c == nil {
		return false, nil
	}
	_, err := c.client.Get(cacheKey(k)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "proofcache: get %d", k)
	}
	return true, nil
}

// Close releases the underlying connection. Safe to call on a nil
// Cache.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func cacheKey(k uint64) string {
	return "coordinator:proof:" + strconv.FormatUint(k, 10)
}
