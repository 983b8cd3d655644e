package authz

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/arborhq/arbor/pkg/observability"
)

// Cache memoizes resolutions per (user, node). Entries are dropped by
// explicit invalidation after a mutation commits; the TTL only bounds
// staleness if an invalidation path is missed. Single-process only.
type Cache struct {
	lru     *expirable.LRU[string, Resolution]
	metrics *observability.Metrics
}

// NewCache creates a resolution cache holding at most maxEntries entries,
// each for at most ttl. metrics may be nil.
func NewCache(maxEntries int, ttl time.Duration, metrics *observability.Metrics) *Cache {
	return &Cache{
		lru:     expirable.NewLRU[string, Resolution](maxEntries, nil, ttl),
		metrics: metrics,
	}
}

func cacheKey(userID, nodeID int64) string {
	return fmt.Sprintf("%d:%d", userID, nodeID)
}

// Get returns the cached resolution for (user, node), if present
func (c *Cache) Get(userID, nodeID int64) (Resolution, bool) {
	res, ok := c.lru.Get(cacheKey(userID, nodeID))
	if c.metrics != nil {
		if ok {
			c.metrics.CacheHitsTotal.Inc()
		} else {
			c.metrics.CacheMissesTotal.Inc()
		}
	}
	return res, ok
}

// Put stores a resolution for (user, node)
func (c *Cache) Put(userID, nodeID int64, res Resolution) {
	c.lru.Add(cacheKey(userID, nodeID), res)
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(c.lru.Len()))
	}
}

// InvalidateNodes drops every entry whose resource is one of the given
// nodes. Callers pass a subtree (from the ancestry index's reverse
// lookup) so a grant change or move evicts everything it can affect.
func (c *Cache) InvalidateNodes(nodeIDs []int64) {
	if len(nodeIDs) == 0 {
		return
	}
	nodes := make(map[int64]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		nodes[id] = true
	}
	for _, key := range c.lru.Keys() {
		if _, nodePart, ok := splitKey(key); ok && nodes[nodePart] {
			c.lru.Remove(key)
		}
	}
	c.recordInvalidation("subtree")
}

// InvalidateUsers drops every entry for the given users
func (c *Cache) InvalidateUsers(userIDs []int64) {
	if len(userIDs) == 0 {
		return
	}
	users := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		users[id] = true
	}
	for _, key := range c.lru.Keys() {
		if userPart, _, ok := splitKey(key); ok && users[userPart] {
			c.lru.Remove(key)
		}
	}
	c.recordInvalidation("user")
}

// InvalidateWorkspace drops every entry whose resource lives in the
// workspace. Used when the workspace default level changes.
func (c *Cache) InvalidateWorkspace(workspaceID int64) {
	for _, key := range c.lru.Keys() {
		if res, ok := c.lru.Peek(key); ok && res.WorkspaceID == workspaceID {
			c.lru.Remove(key)
		}
	}
	c.recordInvalidation("workspace")
}

// Purge drops every entry
func (c *Cache) Purge() {
	c.lru.Purge()
	c.recordInvalidation("purge")
}

// Len returns the current number of entries
func (c *Cache) Len() int {
	return c.lru.Len()
}

func (c *Cache) recordInvalidation(scope string) {
	if c.metrics != nil {
		c.metrics.CacheInvalidations.WithLabelValues(scope).Inc()
		c.metrics.CacheEntries.Set(float64(c.lru.Len()))
	}
}

func splitKey(key string) (userID, nodeID int64, ok bool) {
	userPart, nodePart, found := strings.Cut(key, ":")
	if !found {
		return 0, 0, false
	}
	userID, err := strconv.ParseInt(userPart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	nodeID, err = strconv.ParseInt(nodePart, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return userID, nodeID, true
}
