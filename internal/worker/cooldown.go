// https://github.com/relaysync/core

package worker

import (
	"sync"
	"time"
)

// cooldownTTL is how long a (target_node, target_user, item, field)
// tuple is shielded from a second apply after a successful write.
const cooldownTTL = 30 * time.Second

// cooldownMap is the Worker's own in-memory anti-loop guard: once a
// field is written on a target, the Ingestor's own fan-out webhook from
// that write (the target node notifying us back) must not immediately
// bounce the same value back out. Owned and mutated only on the
// Worker's task, per the single-writer concurrency model.
type cooldownMap struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newCooldownMap() *cooldownMap {
	return &cooldownMap{entries: make(map[string]time.Time)}
}

func cooldownKey(targetNode, targetUser, itemID, field string) string {
	return targetNode + "|" + targetUser + "|" + itemID + "|" + field
}

// active reports whether the tuple is still within its cooldown
// window, evicting it if the window has already elapsed.
func (c *cooldownMap) active(targetNode, targetUser, itemID, field string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cooldownKey(targetNode, targetUser, itemID, field)
	expiry, ok := c.entries[key]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(c.entries, key)
		return false
	}
	return true
}

func (c *cooldownMap) mark(targetNode, targetUser, itemID, field string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cooldownKey(targetNode, targetUser, itemID, field)] = time.Now().Add(cooldownTTL)
}

// sweep drops expired entries; called once per tick so the map does not
// grow unbounded across a long-running process.
func (c *cooldownMap) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, k)
		}
	}
}
