package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/prudhvinik1/focuspresence/internal/metrics"
	"github.com/prudhvinik1/focuspresence/internal/models"
	"github.com/redis/go-redis/v9"
)

const topicChannelPrefix = "presence:topic:"

// Broadcaster fans a presence change out to the global feed and, when the
// record carries a group, to that group's feed. Delivery is best effort.
type Broadcaster interface {
	Broadcast(ctx context.Context, view *models.PresenceView) error
}

// eventsFor builds one event per topic the view belongs to.
func eventsFor(view *models.PresenceView, origin string, clock quartz.Clock) []*models.PresenceEvent {
	topics := []string{models.GlobalTopic}
	if view.GroupID != "" {
		topics = append(topics, models.GroupTopic(view.GroupID))
	}

	now := clock.Now().UTC()
	events := make([]*models.PresenceEvent, 0, len(topics))
	for _, topic := range topics {
		events = append(events, &models.PresenceEvent{
			ID:        uuid.NewString(),
			Topic:     topic,
			Kind:      models.EventKindFor(view.Status),
			Record:    *view,
			Origin:    origin,
			Timestamp: now,
		})
	}
	return events
}

func topicScope(topic string) string {
	if _, ok := models.GroupFromTopic(topic); ok {
		return "group"
	}
	return "global"
}

// RedisBroadcaster publishes events on Redis pub/sub so every instance can
// deliver them to its own connections.
type RedisBroadcaster struct {
	client  *redis.Client
	origin  string
	clock   quartz.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewRedisBroadcaster(client *redis.Client, origin string, clock quartz.Clock, m *metrics.Metrics, logger *slog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client:  client,
		origin:  origin,
		clock:   clock,
		metrics: m,
		logger:  logger,
	}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, view *models.PresenceView) error {
	var errs []error
	for _, event := range eventsFor(view, b.origin, b.clock) {
		data, err := json.Marshal(event)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to marshal presence event: %w", err))
			continue
		}
		if err := b.client.Publish(ctx, topicChannelPrefix+event.Topic, data).Err(); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish to %s: %w", event.Topic, err))
			continue
		}
		b.metrics.RecordBroadcast(string(event.Kind), topicScope(event.Topic))
	}
	return errors.Join(errs...)
}

// Listen delivers every presence event published by any instance until ctx
// is done.
func (b *RedisBroadcaster) Listen(ctx context.Context, deliver func(*models.PresenceEvent)) error {
	ps := b.client.PSubscribe(ctx, topicChannelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to presence topics: %w", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event models.PresenceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("dropping malformed presence event", "channel", msg.Channel, "error", err)
				continue
			}
			if event.Topic == "" {
				event.Topic = strings.TrimPrefix(msg.Channel, topicChannelPrefix)
			}
			deliver(&event)
		}
	}
}

// LocalBroadcaster hands events straight to a Hub. It serves single-instance
// deployments where no bus is needed.
type LocalBroadcaster struct {
	hub     *Hub
	origin  string
	clock   quartz.Clock
	metrics *metrics.Metrics
}

func NewLocalBroadcaster(hub *Hub, origin string, clock quartz.Clock, m *metrics.Metrics) *LocalBroadcaster {
	return &LocalBroadcaster{hub: hub, origin: origin, clock: clock, metrics: m}
}

func (b *LocalBroadcaster) Broadcast(_ context.Context, view *models.PresenceView) error {
	for _, event := range eventsFor(view, b.origin, b.clock) {
		b.hub.Deliver(event)
		b.metrics.RecordBroadcast(string(event.Kind), topicScope(event.Topic))
	}
	return nil
}

// Subscriber is a connection that can receive presence events. Send must not
// block; it reports false when the event was dropped.
type Subscriber interface {
	Send(event *models.PresenceEvent) bool
}

// Hub routes events to the connections attached on this instance. The global
// feed reaches every connection; a group feed reaches only the connections of
// users subscribed to that group.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[string]Subscriber // user → connection → subscriber
	subs    *SubscriptionRegistry
	logger  *slog.Logger
}

func NewHub(subs *SubscriptionRegistry, logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[string]Subscriber),
		subs:    subs,
		logger:  logger,
	}
}

// Register adds a connection and returns the function that removes it.
func (h *Hub) Register(userID, connectionID string, sub Subscriber) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[userID]
	if !ok {
		conns = make(map[string]Subscriber)
		h.clients[userID] = conns
	}
	conns[connectionID] = sub

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		conns := h.clients[userID]
		if conns[connectionID] != sub {
			return
		}
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(h.clients, userID)
		}
	}
}

// Deliver pushes the event to every interested connection and returns how
// many accepted it.
func (h *Hub) Deliver(event *models.PresenceEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	send := func(userID string, conns map[string]Subscriber) {
		for connID, sub := range conns {
			if sub.Send(event) {
				delivered++
				continue
			}
			h.logger.Debug("presence event dropped", "user", userID, "conn", connID, "topic", event.Topic)
		}
	}

	groupID, scoped := models.GroupFromTopic(event.Topic)
	if !scoped {
		for userID, conns := range h.clients {
			send(userID, conns)
		}
		return delivered
	}
	for _, userID := range h.subs.Subscribers(groupID) {
		send(userID, h.clients[userID])
	}
	return delivered
}
