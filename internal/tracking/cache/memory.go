package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/example/ezmove/internal/tracking/domain"
)

type memoryEntry struct {
	loc     domain.DriverLocation
	version uint64
}

// MemoryCache stores the latest location per driver in process memory.
type MemoryCache struct {
	mu      sync.RWMutex
	seq     uint64
	entries map[uuid.UUID]memoryEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[uuid.UUID]memoryEntry)}
}

// Set overwrites the driver's entry. Last writer wins.
func (c *MemoryCache) Set(_ context.Context, loc domain.DriverLocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.entries[loc.DriverID] = memoryEntry{loc: loc, version: c.seq}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, driverID uuid.UUID) (domain.DriverLocation, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[driverID]
	return entry.loc, ok, nil
}

func (c *MemoryCache) Delete(_ context.Context, driverID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, driverID)
	return nil
}

// Len returns the number of cached drivers.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// version returns the write sequence of the driver's entry, 0 when absent.
func (c *MemoryCache) version(driverID uuid.UUID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[driverID].version
}

// deleteIfVersion removes the entry only if no Set happened since version was read.
func (c *MemoryCache) deleteIfVersion(driverID uuid.UUID, version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[driverID]
	if !ok || entry.version != version {
		return false
	}
	delete(c.entries, driverID)
	return true
}
