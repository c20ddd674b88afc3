package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prudhvinik1/focuspresence/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRegistry_AttachDetach(t *testing.T) {
	r := NewConnectionRegistry()
	now := time.Now()

	assert.Equal(t, 1, r.Attach("u1", "a", "G", now))
	assert.Equal(t, 2, r.Attach("u1", "b", "", now.Add(time.Second)))
	assert.Equal(t, 2, r.Attach("u1", "a", "H", now), "re-attach is idempotent")
	assert.Equal(t, 2, r.Total())

	conns := r.Connections("u1")
	require.Len(t, conns, 2)
	assert.Equal(t, "a", conns[0].ConnectionID)
	assert.Equal(t, "H", conns[0].GroupID)

	remaining, removed := r.Detach("u1", "a")
	assert.True(t, removed)
	assert.Equal(t, 1, remaining)

	remaining, removed = r.Detach("u1", "a")
	assert.False(t, removed, "detaching twice is a no-op")
	assert.Equal(t, 1, remaining)

	remaining, removed = r.Detach("u1", "b")
	assert.True(t, removed)
	assert.Zero(t, remaining)
	assert.Zero(t, r.CountFor("u1"))
	assert.Zero(t, r.Total())

	remaining, removed = r.Detach("nobody", "x")
	assert.False(t, removed)
	assert.Zero(t, remaining)
}

// TestConnectionRegistry_ConcurrentDetach tests that racing disconnects never miscount
func TestConnectionRegistry_ConcurrentDetach(t *testing.T) {
	r := NewConnectionRegistry()
	const n = 64
	for i := 0; i < n; i++ {
		r.Attach("u1", fmt.Sprintf("conn-%d", i), "", time.Now())
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	zeros := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			remaining, removed := r.Detach("u1", fmt.Sprintf("conn-%d", i))
			if removed && remaining == 0 {
				mu.Lock()
				zeros++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, zeros, "exactly one detach observes the last connection")
	assert.Zero(t, r.CountFor("u1"))
	assert.Zero(t, r.Total())
}

func TestSubscriptionRegistry(t *testing.T) {
	s := NewSubscriptionRegistry()

	s.Subscribe("u1", "g2", "g1", "")
	s.Subscribe("u1", "g1")
	s.Subscribe("u2", "g1")

	assert.Equal(t, []string{"g1", "g2"}, s.Groups("u1"))
	assert.Equal(t, []string{"u1", "u2"}, s.Subscribers("g1"))
	assert.True(t, s.IsSubscribed("u2", "g1"))

	s.Unsubscribe("u2", "g1")
	s.Unsubscribe("u2", "unknown")
	assert.False(t, s.IsSubscribed("u2", "g1"))
	assert.Equal(t, []string{"u1"}, s.Subscribers("g1"))

	cleared := s.ClearAll("u1")
	assert.Equal(t, []string{"g1", "g2"}, cleared)
	assert.Empty(t, s.Groups("u1"))
	assert.Empty(t, s.Subscribers("g1"))
	assert.Empty(t, s.ClearAll("u1"))
}

func TestLocalPresenceCache(t *testing.T) {
	clock := quartz.NewMock(t)
	cache := NewLocalPresenceCache(clock, time.Minute)

	original := &models.Presence{UserID: "u1", Status: models.StatusOnline, LastSeen: clock.Now()}
	cache.Put(original)
	original.Status = models.StatusBusy

	got, ok := cache.Get("u1")
	require.True(t, ok)
	assert.Equal(t, models.StatusOnline, got.Status, "cache holds a copy")

	got.Status = models.StatusAway
	again, _ := cache.Get("u1")
	assert.Equal(t, models.StatusOnline, again.Status, "callers get a copy")

	clock.Advance(time.Minute + time.Second).MustWait(context.Background())
	_, ok = cache.Get("u1")
	assert.False(t, ok, "entry is stale")
	stale, ok := cache.Stale("u1")
	require.True(t, ok)
	assert.Equal(t, "u1", stale.UserID)

	cache.Reconcile(map[string]*models.Presence{
		"u2": {UserID: "u2", Status: models.StatusAway},
	})
	assert.Equal(t, []string{"u2"}, cache.UserIDs())
	assert.Equal(t, 1, cache.Size())
	_, ok = cache.Get("u2")
	assert.True(t, ok, "reconciled entries are fresh")
}
