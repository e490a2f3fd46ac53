package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jacksonlee411/metaregistry/modules/governance/domain/ports"
	"github.com/jacksonlee411/metaregistry/modules/governance/domain/types"
)

type memoryEntry struct {
	result    types.ConformanceResult
	expiresAt time.Time
}

type MemorySnapshotCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]map[string]memoryEntry // tenant -> entity:pack -> entry
}

func NewMemorySnapshotCache(ttl time.Duration) *MemorySnapshotCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemorySnapshotCache{ttl: ttl, now: time.Now, entries: make(map[string]map[string]memoryEntry)}
}

var _ ports.SnapshotCache = (*MemorySnapshotCache)(nil)

func entryKey(entityID string, packID string) string { return entityID + "\x00" + packID }

func (c *MemorySnapshotCache) Get(_ context.Context, tenantID string, entityID string, packID string) (types.ConformanceResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[tenantID][entryKey(entityID, packID)]
	if !ok {
		return types.ConformanceResult{}, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries[tenantID], entryKey(entityID, packID))
		return types.ConformanceResult{}, false, nil
	}
	return e.result, true, nil
}

func (c *MemorySnapshotCache) Set(_ context.Context, tenantID string, result types.ConformanceResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[tenantID]
	if !ok {
		m = make(map[string]memoryEntry)
		c.entries[tenantID] = m
	}
	m[entryKey(result.EntityID, result.PackID)] = memoryEntry{result: result, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemorySnapshotCache) InvalidateEntity(_ context.Context, tenantID string, entityID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries[tenantID] {
		if e.result.EntityID == entityID {
			delete(c.entries[tenantID], k)
		}
	}
	return nil
}

func (c *MemorySnapshotCache) InvalidateTenant(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tenantID == "" {
		clear(c.entries)
		return nil
	}
	delete(c.entries, tenantID)
	return nil
}
