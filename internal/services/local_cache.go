package services

import (
	"time"

	"github.com/coder/quartz"
	"github.com/prudhvinik1/focuspresence/internal/models"
	"github.com/puzpuzpuz/xsync/v3"
)

type cacheEntry struct {
	presence *models.Presence
	storedAt time.Time
}

// LocalPresenceCache mirrors store records on this instance for fast reads.
// It is never consulted for write decisions. Entries are copied on the way in
// and out so callers cannot mutate shared records.
type LocalPresenceCache struct {
	entries *xsync.MapOf[string, cacheEntry]
	clock   quartz.Clock
	maxAge  time.Duration
}

// NewLocalPresenceCache returns a cache whose entries count as fresh for maxAge.
func NewLocalPresenceCache(clock quartz.Clock, maxAge time.Duration) *LocalPresenceCache {
	return &LocalPresenceCache{
		entries: xsync.NewMapOf[string, cacheEntry](),
		clock:   clock,
		maxAge:  maxAge,
	}
}

func (c *LocalPresenceCache) Put(presence *models.Presence) {
	c.entries.Store(presence.UserID, cacheEntry{
		presence: presence.Clone(),
		storedAt: c.clock.Now(),
	})
}

// Get returns the cached record only while it is fresh.
func (c *LocalPresenceCache) Get(userID string) (*models.Presence, bool) {
	entry, ok := c.entries.Load(userID)
	if !ok || c.clock.Since(entry.storedAt) > c.maxAge {
		return nil, false
	}
	return entry.presence.Clone(), true
}

// Stale returns the cached record regardless of age.
func (c *LocalPresenceCache) Stale(userID string) (*models.Presence, bool) {
	entry, ok := c.entries.Load(userID)
	if !ok {
		return nil, false
	}
	return entry.presence.Clone(), true
}

func (c *LocalPresenceCache) Delete(userID string) {
	c.entries.Delete(userID)
}

func (c *LocalPresenceCache) UserIDs() []string {
	ids := make([]string, 0, c.entries.Size())
	c.entries.Range(func(userID string, _ cacheEntry) bool {
		ids = append(ids, userID)
		return true
	})
	return ids
}

func (c *LocalPresenceCache) Size() int {
	return c.entries.Size()
}

// Reconcile replaces the cache contents with the given store view. Users
// missing from records are dropped.
func (c *LocalPresenceCache) Reconcile(records map[string]*models.Presence) {
	c.entries.Range(func(userID string, _ cacheEntry) bool {
		if _, ok := records[userID]; !ok {
			c.entries.Delete(userID)
		}
		return true
	})
	for _, presence := range records {
		c.Put(presence)
	}
}
