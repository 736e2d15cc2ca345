// Package reconcile owns the cached view state and the three-phase optimistic
// mutation protocol that keeps it consistent with the authoritative store.
package reconcile

import (
	"fmt"
	"sync"
)

// Key identifies one cached view: an activity detail view or a participant
// roster. Calendar windows are always rebuilt from the store and never cached.
type Key string

// DetailKey names the detail cache for one activity.
func DetailKey(activityID string) Key { return Key(fmt.Sprintf("detail:%s", activityID)) }

// RosterKey names the participant roster cache for one activity.
func RosterKey(activityID string) Key { return Key(fmt.Sprintf("roster:%s", activityID)) }

// EntryState tags a cache entry as settled or carrying an optimistic value.
type EntryState string

const (
	// StateReconciled marks values that came from the authoritative store.
	StateReconciled EntryState = "reconciled"
	// StatePending marks optimistic values awaiting reconciliation.
	StatePending EntryState = "pending"
)

// Entry is one cached value plus its reconciliation tag.
type Entry struct {
	Value any
	State EntryState
}

// Cache is the only shared mutable state in the engine. Reads are open to any
// consumer; writes happen solely through the Reconciler's protocol or through
// a full refresh.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[Key]Entry)}
}

// Get returns the cached entry for key.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Put stores an authoritative value. This is the refresh write path.
func (c *Cache) Put(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Value: value, State: StateReconciled}
}

// Drop removes keys entirely, forcing the next reader to refetch.
func (c *Cache) Drop(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
}

// snapshot captures the exact current entries (including absence) for the
// given keys so a failed mutation can restore them verbatim.
func (c *Cache) snapshot(keys []Key) map[Key]*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[Key]*Entry, len(keys))
	for _, key := range keys {
		if entry, ok := c.entries[key]; ok {
			copied := entry
			snap[key] = &copied
		} else {
			snap[key] = nil
		}
	}
	return snap
}

// applyOptimistic rewrites each key through fn and tags the result pending.
// Keys with no cached value are left absent; there is nothing to patch.
func (c *Cache) applyOptimistic(keys []Key, fn func(Key, any) any) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		entry, ok := c.entries[key]
		if !ok {
			continue
		}
		c.entries[key] = Entry{Value: fn(key, entry.Value), State: StatePending}
	}
}

// restore rewinds the keys to a snapshot taken before an optimistic write.
func (c *Cache) restore(snap map[Key]*Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range snap {
		if entry == nil {
			delete(c.entries, key)
			continue
		}
		c.entries[key] = *entry
	}
}
