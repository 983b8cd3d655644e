package authz

import (
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	return NewCache(128, time.Minute, nil)
}

func put(c *Cache, userID, nodeID, workspaceID int64, level Level) {
	c.Put(userID, nodeID, Resolution{
		Level:        level,
		Source:       SourceDirect,
		SourceNodeID: nodeID,
		WorkspaceID:  workspaceID,
	})
}

func TestCache_GetPut(t *testing.T) {
	c := newTestCache(t)

	if _, ok := c.Get(1, 10); ok {
		t.Error("Get on empty cache reported a hit")
	}

	put(c, 1, 10, 5, LevelRead)

	res, ok := c.Get(1, 10)
	if !ok {
		t.Fatal("Get after Put reported a miss")
	}
	if res.Level != LevelRead || res.WorkspaceID != 5 {
		t.Errorf("Cached resolution = %+v, want read in workspace 5", res)
	}
}

func TestCache_InvalidateNodes(t *testing.T) {
	c := newTestCache(t)

	put(c, 1, 10, 5, LevelRead)
	put(c, 2, 10, 5, LevelWrite)
	put(c, 1, 20, 5, LevelRead)

	c.InvalidateNodes([]int64{10})

	if _, ok := c.Get(1, 10); ok {
		t.Error("Entry (1, 10) survived node invalidation")
	}
	if _, ok := c.Get(2, 10); ok {
		t.Error("Entry (2, 10) survived node invalidation")
	}
	if _, ok := c.Get(1, 20); !ok {
		t.Error("Entry (1, 20) evicted by unrelated node invalidation")
	}
}

func TestCache_InvalidateUsers(t *testing.T) {
	c := newTestCache(t)

	put(c, 1, 10, 5, LevelRead)
	put(c, 1, 20, 5, LevelRead)
	put(c, 2, 10, 5, LevelWrite)

	c.InvalidateUsers([]int64{1})

	if _, ok := c.Get(1, 10); ok {
		t.Error("Entry (1, 10) survived user invalidation")
	}
	if _, ok := c.Get(1, 20); ok {
		t.Error("Entry (1, 20) survived user invalidation")
	}
	if _, ok := c.Get(2, 10); !ok {
		t.Error("Entry (2, 10) evicted by unrelated user invalidation")
	}
}

func TestCache_InvalidateWorkspace(t *testing.T) {
	c := newTestCache(t)

	put(c, 1, 10, 5, LevelRead)
	put(c, 2, 20, 5, LevelWrite)
	put(c, 3, 30, 6, LevelRead)

	c.InvalidateWorkspace(5)

	if _, ok := c.Get(1, 10); ok {
		t.Error("Workspace 5 entry survived workspace invalidation")
	}
	if _, ok := c.Get(2, 20); ok {
		t.Error("Workspace 5 entry survived workspace invalidation")
	}
	if _, ok := c.Get(3, 30); !ok {
		t.Error("Workspace 6 entry evicted by workspace 5 invalidation")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := NewCache(128, 10*time.Millisecond, nil)

	put(c, 1, 10, 5, LevelRead)
	if _, ok := c.Get(1, 10); !ok {
		t.Fatal("Entry missing immediately after Put")
	}

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get(1, 10); ok {
		t.Error("Entry survived past its TTL")
	}
}

func TestCache_Purge(t *testing.T) {
	c := newTestCache(t)

	put(c, 1, 10, 5, LevelRead)
	put(c, 2, 20, 6, LevelWrite)

	c.Purge()

	if c.Len() != 0 {
		t.Errorf("Len after purge = %d, want 0", c.Len())
	}
}
