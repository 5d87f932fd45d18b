package session

import (
	"sync"
	"time"
)

type cacheEntry struct {
	sess     *Session
	loadedAt time.Time
}

// Cache is the in-process session overlay. Entries are immutable once stored:
// updates replace the entry with a new copy, so a reader never observes a
// half-written session.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	tombstones map[string]time.Time
}

// NewCache creates an empty [Cache].
func NewCache() *Cache {
	return &Cache{
		entries:    make(map[string]cacheEntry),
		tombstones: make(map[string]time.Time),
	}
}

// Get returns the cached session and the time it was last confirmed against
// the repository. The returned session must not be modified.
func (c *Cache) Get(id string) (*Session, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, time.Time{}, false
	}
	return e.sess, e.loadedAt, true
}

// Put stores a copy of sess unconditionally. Used on create, where no older
// record can exist.
func (c *Cache) Put(sess *Session, loadedAt time.Time) {
	stored := sess.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[stored.ID] = cacheEntry{sess: stored, loadedAt: loadedAt}
}

// Merge folds a repository read into the cache. The repository record wins
// unless the cached copy has a newer revision, in which case only the cached
// activity data is kept. Tombstoned ids are refused and Merge returns false.
func (c *Cache) Merge(fromRepo *Session, loadedAt time.Time) (*Session, bool) {
	merged := fromRepo.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dead := c.tombstones[merged.ID]; dead {
		return nil, false
	}

	if cur, ok := c.entries[merged.ID]; ok && cur.sess.Revision > merged.Revision {
		merged.Metadata.LastActive = cur.sess.Metadata.LastActive
		merged.Revision = cur.sess.Revision
	}

	c.entries[merged.ID] = cacheEntry{sess: merged, loadedAt: loadedAt}
	return merged, true
}

// Touch replaces the entry with a copy whose LastActive is now and whose
// revision is bumped. It returns the new copy.
func (c *Cache) Touch(id string, now time.Time) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.entries[id]
	if !ok {
		return nil, false
	}

	next := cur.sess.Clone()
	next.Metadata.LastActive = now
	next.Revision++
	c.entries[id] = cacheEntry{sess: next, loadedAt: cur.loadedAt}
	return next, true
}

// Delete removes id from the cache.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Tombstone removes id and refuses to cache it again until the given time.
func (c *Cache) Tombstone(id string, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	if prev, ok := c.tombstones[id]; !ok || until.After(prev) {
		c.tombstones[id] = until
	}
}

// IsTombstoned reports whether id was destroyed and the tombstone is still live.
func (c *Cache) IsTombstoned(id string, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	until, ok := c.tombstones[id]
	return ok && now.Before(until)
}

// PruneTombstones drops tombstones that lapsed before now and returns how
// many were removed.
func (c *Cache) PruneTombstones(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, until := range c.tombstones {
		if !now.Before(until) {
			delete(c.tombstones, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
