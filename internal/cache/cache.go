// Package cache holds the master-data snapshots facilities download on first sync. Snapshots are
// differential against CDC history, so any change the history cannot express evicts all of them
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// KeyPrefix namespaces every snapshot key
const KeyPrefix = "siglus:masterdata:snapshot:"

// SnapshotCache is safe for concurrent use
type SnapshotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// EvictAll removes every snapshot and returns how many were removed
	EvictAll(ctx context.Context) (int, error)
}

// Key returns the cache key of the snapshot of facilityID at version
func Key(facilityID string, version int64) string {
	var b strings.Builder
	b.WriteString(KeyPrefix)
	b.WriteString(facilityID)
	b.WriteByte(':')
	b.WriteString(time.Unix(version, 0).UTC().Format("20060102T150405"))
	return b.String()
}

type memoryItem struct {
	data    []byte
	expires time.Time
}

// MemorySnapshotCache is the single-process cache used when no Redis is configured
type MemorySnapshotCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{items: map[string]memoryItem{}, now: time.Now}
}

func (c *MemorySnapshotCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[key]
	if !ok || (!item.expires.IsZero() && c.now().After(item.expires)) {
		return nil, false, nil
	}
	return append([]byte(nil), item.data...), true, nil
}

func (c *MemorySnapshotCache) Put(_ context.Context, key string, data []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := memoryItem{data: append([]byte(nil), data...)}
	if ttl > 0 {
		item.expires = c.now().Add(ttl)
	}
	c.items[key] = item
	return nil
}

func (c *MemorySnapshotCache) EvictAll(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.items)
	c.items = map[string]memoryItem{}
	return n, nil
}
