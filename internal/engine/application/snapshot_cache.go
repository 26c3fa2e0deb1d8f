package application

import (
	"sort"
	"sync"
	"time"

	engine "restroom-cloud/internal/engine/domain"
)

// SnapshotCache keeps the last reading of every device. Reads sweep liveness, so
// every access goes through the mutex.
type SnapshotCache struct {
	mu        sync.Mutex
	items     map[string]engine.Snapshot
	threshold time.Duration
}

// NewSnapshotCache constructs a cache with the given inactivity threshold.
func NewSnapshotCache(threshold time.Duration) *SnapshotCache {
	if threshold <= 0 {
		threshold = engine.InactivityThreshold
	}
	return &SnapshotCache{items: make(map[string]engine.Snapshot), threshold: threshold}
}

// Upsert replaces the snapshot of the device. revived reports an inactive device coming back.
func (c *SnapshotCache) Upsert(reading engine.NormalizedReading, now time.Time) (snapshot engine.Snapshot, revived bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, existed := c.items[reading.DeviceID]
	lastActive := now
	if existed && prev.LastActiveAt.After(now) {
		lastActive = prev.LastActiveAt
	}
	snapshot = engine.Snapshot{
		DeviceID:     reading.DeviceID,
		Amonia:       reading.Reading.Amonia,
		Water:        reading.Reading.Water,
		Soap:         reading.Reading.Soap,
		Tissue:       reading.Reading.Tissue,
		Timestamp:    now,
		Status:       engine.LivenessActive,
		LastActiveAt: lastActive,
	}
	c.items[reading.DeviceID] = snapshot
	return snapshot, existed && prev.Status == engine.LivenessInactive
}

// ListAll returns every snapshot after sweeping liveness. transitioned lists the
// devices that went inactive during this read, sorted.
func (c *SnapshotCache) ListAll(now time.Time) (snapshots map[string]engine.Snapshot, transitioned []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshots = make(map[string]engine.Snapshot, len(c.items))
	for id, snapshot := range c.items {
		if c.sweep(&snapshot, now) {
			c.items[id] = snapshot
			transitioned = append(transitioned, id)
		}
		snapshots[id] = snapshot
	}
	sort.Strings(transitioned)
	return snapshots, transitioned
}

// Get returns one snapshot after sweeping its liveness.
func (c *SnapshotCache) Get(deviceID string, now time.Time) (snapshot engine.Snapshot, found bool, transitioned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot, found = c.items[deviceID]
	if !found {
		return engine.Snapshot{}, false, false
	}
	if c.sweep(&snapshot, now) {
		c.items[deviceID] = snapshot
		transitioned = true
	}
	return snapshot, true, transitioned
}

// Len reports the number of tracked devices.
func (c *SnapshotCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *SnapshotCache) sweep(snapshot *engine.Snapshot, now time.Time) bool {
	if snapshot.Status != engine.LivenessActive {
		return false
	}
	if now.Sub(snapshot.LastActiveAt) <= c.threshold {
		return false
	}
	snapshot.Status = engine.LivenessInactive
	return true
}
