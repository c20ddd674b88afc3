package services

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/prudhvinik1/focuspresence/internal/models"
	"github.com/puzpuzpuz/xsync/v3"
)

type connSet = map[string]models.ConnectionEntry

// ConnectionRegistry tracks the live connections of this instance, per user.
// Sets are replaced, never mutated, so readers can range a loaded set freely.
type ConnectionRegistry struct {
	users *xsync.MapOf[string, connSet]
	total atomic.Int64
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		users: xsync.NewMapOf[string, connSet](),
	}
}

// Attach registers the connection and returns the user's connection count
// including it. Attaching a known connection again only updates its group hint.
func (r *ConnectionRegistry) Attach(userID, connectionID, groupID string, joinedAt time.Time) int {
	var count int
	var added bool
	r.users.Compute(userID, func(old connSet, _ bool) (connSet, bool) {
		next := make(connSet, len(old)+1)
		for id, entry := range old {
			next[id] = entry
		}
		entry, exists := next[connectionID]
		if !exists {
			added = true
			entry = models.ConnectionEntry{
				ConnectionID: connectionID,
				UserID:       userID,
				JoinedAt:     joinedAt,
			}
		}
		entry.GroupID = groupID
		next[connectionID] = entry
		count = len(next)
		return next, false
	})
	if added {
		r.total.Add(1)
	}
	return count
}

// Detach removes the connection and returns how many remain for the user.
// removed is false when the connection was not attached.
func (r *ConnectionRegistry) Detach(userID, connectionID string) (remaining int, removed bool) {
	r.users.Compute(userID, func(old connSet, loaded bool) (connSet, bool) {
		if !loaded {
			return old, true
		}
		if _, ok := old[connectionID]; !ok {
			remaining = len(old)
			return old, false
		}
		removed = true
		next := make(connSet, len(old))
		for id, entry := range old {
			if id != connectionID {
				next[id] = entry
			}
		}
		remaining = len(next)
		return next, remaining == 0
	})
	if removed {
		r.total.Add(-1)
	}
	return remaining, removed
}

func (r *ConnectionRegistry) CountFor(userID string) int {
	conns, _ := r.users.Load(userID)
	return len(conns)
}

// Connections returns the user's connections, oldest first.
func (r *ConnectionRegistry) Connections(userID string) []models.ConnectionEntry {
	conns, _ := r.users.Load(userID)
	entries := make([]models.ConnectionEntry, 0, len(conns))
	for _, entry := range conns {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].ConnectionID < entries[j].ConnectionID
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
	return entries
}

// Total is the number of connections attached on this instance.
func (r *ConnectionRegistry) Total() int {
	return int(r.total.Load())
}
