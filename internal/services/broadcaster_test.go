package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prudhvinik1/focuspresence/internal/metrics"
	"github.com/prudhvinik1/focuspresence/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSubscriber struct {
	ch chan *models.PresenceEvent
}

func newChanSubscriber(size int) *chanSubscriber {
	return &chanSubscriber{ch: make(chan *models.PresenceEvent, size)}
}

func (c *chanSubscriber) Send(event *models.PresenceEvent) bool {
	select {
	case c.ch <- event:
		return true
	default:
		return false
	}
}

func (c *chanSubscriber) topics() []string {
	var topics []string
	for {
		select {
		case e := <-c.ch:
			topics = append(topics, e.Topic)
		default:
			return topics
		}
	}
}

func onlineView(userID, groupID string, status models.PresenceStatus) *models.PresenceView {
	return &models.PresenceView{
		Presence: models.Presence{UserID: userID, Status: status, GroupID: groupID, LastSeen: time.Now()},
	}
}

func TestEventsFor_KindsAndTopics(t *testing.T) {
	clock := quartz.NewMock(t)

	tests := []struct {
		status models.PresenceStatus
		kind   models.EventKind
	}{
		{models.StatusOnline, models.EventUserOnline},
		{models.StatusInFocusSession, models.EventUserOnline},
		{models.StatusInBuddySession, models.EventUserOnline},
		{models.StatusAway, models.EventUserAway},
		{models.StatusBusy, models.EventUserAway},
		{models.StatusDoNotDisturb, models.EventUserAway},
		{models.StatusOffline, models.EventUserOffline},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			events := eventsFor(onlineView("u1", "G", tt.status), "node-a", clock)
			require.Len(t, events, 2)
			assert.Equal(t, models.GlobalTopic, events[0].Topic)
			assert.Equal(t, models.GroupTopic("G"), events[1].Topic)
			for _, e := range events {
				assert.Equal(t, tt.kind, e.Kind)
				assert.Equal(t, "node-a", e.Origin)
				assert.NotEmpty(t, e.ID)
			}
		})
	}

	events := eventsFor(onlineView("u1", "", models.StatusOnline), "node-a", clock)
	assert.Len(t, events, 1, "no group feed without a group")
}

// TestHub_Deliver tests global fan-out and subscription-gated group delivery
func TestHub_Deliver(t *testing.T) {
	// ARRANGE
	subs := NewSubscriptionRegistry()
	hub := NewHub(subs, testLogger())
	m := metrics.New(prometheus.NewRegistry())
	broadcaster := NewLocalBroadcaster(hub, "node-a", quartz.NewMock(t), m)

	alice := newChanSubscriber(8)
	bobPhone := newChanSubscriber(8)
	bobLaptop := newChanSubscriber(8)
	hub.Register("alice", "a1", alice)
	hub.Register("bob", "b1", bobPhone)
	cancelLaptop := hub.Register("bob", "b2", bobLaptop)
	subs.Subscribe("bob", "G")

	// ACT
	require.NoError(t, broadcaster.Broadcast(context.Background(), onlineView("carol", "G", models.StatusOnline)))

	// ASSERT
	assert.Equal(t, []string{"presence"}, alice.topics())
	assert.Equal(t, []string{"presence", "presence.group.G"}, bobPhone.topics())
	assert.Equal(t, []string{"presence", "presence.group.G"}, bobLaptop.topics())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BroadcastsTotal.WithLabelValues("USER_ONLINE", "group")))

	// ACT: unregister one device
	cancelLaptop()
	require.NoError(t, broadcaster.Broadcast(context.Background(), onlineView("carol", "G", models.StatusAway)))

	// ASSERT
	assert.Len(t, bobPhone.topics(), 2)
	assert.Empty(t, bobLaptop.topics())
}

// TestHub_SlowSubscriberIsSkipped tests that a full buffer drops instead of blocking
func TestHub_SlowSubscriberIsSkipped(t *testing.T) {
	hub := NewHub(NewSubscriptionRegistry(), testLogger())
	slow := newChanSubscriber(0)
	fast := newChanSubscriber(1)
	hub.Register("u1", "slow", slow)
	hub.Register("u2", "fast", fast)

	delivered := hub.Deliver(&models.PresenceEvent{Topic: models.GlobalTopic})

	assert.Equal(t, 1, delivered)
}

// TestRedisBroadcaster_RoundTrip tests publishing and listening through Redis pub/sub
func TestRedisBroadcaster_RoundTrip(t *testing.T) {
	// ARRANGE
	h := newTestHarness(t)
	clock := quartz.NewMock(t)
	m := metrics.New(prometheus.NewRegistry())
	broadcaster := NewRedisBroadcaster(h.client, "node-a", clock, m, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	listenCtx, stopListening := context.WithCancel(ctx)

	var mu sync.Mutex
	var received []*models.PresenceEvent
	done := make(chan error, 1)
	go func() {
		done <- broadcaster.Listen(listenCtx, func(e *models.PresenceEvent) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, e)
		})
	}()

	// Wait for the pattern subscription to be registered
	require.Eventually(t, func() bool {
		return h.mr.PubSubNumPat() > 0
	}, 2*time.Second, 10*time.Millisecond)

	// ACT
	require.NoError(t, broadcaster.Broadcast(ctx, onlineView("u1", "G", models.StatusBusy)))

	// ASSERT
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	topics := []string{received[0].Topic, received[1].Topic}
	kind := received[0].Kind
	origin := received[0].Origin
	user := received[0].Record.UserID
	mu.Unlock()

	assert.ElementsMatch(t, []string{"presence", "presence.group.G"}, topics)
	assert.Equal(t, models.EventUserAway, kind)
	assert.Equal(t, "node-a", origin)
	assert.Equal(t, "u1", user)

	stopListening()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("listener did not stop")
	}
}
