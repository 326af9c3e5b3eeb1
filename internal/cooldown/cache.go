package cooldown

import (
	"sort"
	"sync"
	"time"

	"snapkeep/internal/snapkeep"
)

// Key returns the map key for a file and protection level.
func Key(filePath string, level snapkeep.ProtectionLevel) string {
	return filePath + "::" + string(level)
}

// Cache holds suppression windows in memory only. Entries never survive a
// restart: a cooldown set before a crash must not silence prompts afterwards.
type Cache struct {
	clock  snapkeep.Clock
	logger snapkeep.Logger

	mu      sync.Mutex
	entries map[string]snapkeep.CooldownEntry

	sweepMu sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

var _ snapkeep.CooldownCache = (*Cache)(nil)

// New creates an empty cache. Call Start to enable the periodic sweep.
func New(clock snapkeep.Clock, logger snapkeep.Logger) *Cache {
	if logger == nil {
		logger = snapkeep.NewNopLogger()
	}
	return &Cache{
		clock:   clock,
		logger:  logger,
		entries: make(map[string]snapkeep.CooldownEntry),
	}
}

// Set starts (or restarts) a cooldown of length d.
func (c *Cache) Set(filePath string, level snapkeep.ProtectionLevel, d time.Duration, action, snapshotID string) snapkeep.CooldownEntry {
	now := c.clock.Now()
	e := snapkeep.CooldownEntry{
		FilePath:        filePath,
		ProtectionLevel: level,
		TriggeredAt:     now,
		ExpiresAt:       now.Add(d),
		Action:          action,
		SnapshotID:      snapshotID,
	}

	c.mu.Lock()
	c.entries[Key(filePath, level)] = e
	c.mu.Unlock()
	return e
}

// Get returns the live entry for the pair. An expired entry is evicted and
// reported as absent.
func (c *Cache) Get(filePath string, level snapkeep.ProtectionLevel) (snapkeep.CooldownEntry, bool) {
	key := Key(filePath, level)
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return snapkeep.CooldownEntry{}, false
	}
	if !now.Before(e.ExpiresAt) {
		delete(c.entries, key)
		return snapkeep.CooldownEntry{}, false
	}
	return e, true
}

// IsInCooldown reports whether the pair has a live cooldown.
func (c *Cache) IsInCooldown(filePath string, level snapkeep.ProtectionLevel) bool {
	_, ok := c.Get(filePath, level)
	return ok
}

// RemainingTime returns how long the cooldown has left, or 0.
func (c *Cache) RemainingTime(filePath string, level snapkeep.ProtectionLevel) time.Duration {
	e, ok := c.Get(filePath, level)
	if !ok {
		return 0
	}
	return e.ExpiresAt.Sub(c.clock.Now())
}

// Remove deletes the entry and reports whether one was present.
func (c *Cache) Remove(filePath string, level snapkeep.ProtectionLevel) bool {
	key := Key(filePath, level)

	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Clear deletes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]snapkeep.CooldownEntry)
	c.mu.Unlock()
}

// RemoveExpired evicts every expired entry and returns how many were removed.
func (c *Cache) RemoveExpired() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// All returns the live entries ordered by expiry, soonest first.
func (c *Cache) All() []snapkeep.CooldownEntry {
	now := c.clock.Now()

	c.mu.Lock()
	out := make([]snapkeep.CooldownEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if now.Before(e.ExpiresAt) {
			out = append(out, e)
		}
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return Key(out[i].FilePath, out[i].ProtectionLevel) < Key(out[j].FilePath, out[j].ProtectionLevel)
	})
	return out
}

// Size returns the number of entries held, including expired ones not yet swept.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start runs RemoveExpired every interval until Stop. Calling Start while a
// sweep is running has no effect.
func (c *Cache) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}

	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.stop != nil {
		return
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	c.stop, c.stopped = stop, stopped

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.RemoveExpired(); n > 0 {
					c.logger.Debug("expired cooldowns removed", "count", n)
				}
			case <-stop:
				return
			}
		}
	}()
}

// Stop ends the periodic sweep and waits for it to exit. Entries are kept.
func (c *Cache) Stop() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.stopped
	c.stop, c.stopped = nil, nil
}
