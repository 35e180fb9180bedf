// https://github.com/relaysync/core

package resolver

import (
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// l1TTL bounds how long a positive resolution is trusted before the L1
// cache falls through to the Store's L2 tables again. Kept well under
// models.ItemCacheTTL so a node-side rename is picked up without
// waiting a full day for the L2 entry to go stale.
const l1TTL = 10 * time.Minute

// l1Cache is a small in-process front for the Store's user_mappings
// and item_cache tables: sub-millisecond hits, no persistence, safe to
// lose on restart since it always falls through to the Store. One
// instance backs both user and item lookups since both cache a single
// string (the remote id) behind a composite string key.
type l1Cache struct {
	cache *ristretto.Cache[string, string]
}

func newL1Cache() (*l1Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &l1Cache{cache: c}, nil
}

func (c *l1Cache) get(key string) (string, bool) {
	return c.cache.Get(key)
}

func (c *l1Cache) set(key, value string) {
	c.cache.SetWithTTL(key, value, 1, l1TTL)
}

func (c *l1Cache) delete(key string) {
	c.cache.Del(key)
}

func (c *l1Cache) close() {
	c.cache.Close()
}

func userCacheKey(username, nodeName string) string {
	return "user:" + nodeName + ":" + strings.ToLower(username)
}

func remoteUserCacheKey(nodeName, remoteUserID string) string {
	return "remoteuser:" + nodeName + ":" + remoteUserID
}

func itemCacheKey(nodeName, lookupKey string) string {
	return "item:" + nodeName + ":" + lookupKey
}
