package models

import (
	"time"
)

type EventKind string

const (
	EventUserOnline  EventKind = "USER_ONLINE"
	EventUserAway    EventKind = "USER_AWAY"
	EventUserOffline EventKind = "USER_OFFLINE"
)

const (
	GlobalTopic      = "presence"
	groupTopicPrefix = "presence.group."
)

func GroupTopic(groupID string) string {
	return groupTopicPrefix + groupID
}

// GroupFromTopic returns the group a topic is scoped to, or false for the global feed.
func GroupFromTopic(topic string) (string, bool) {
	if len(topic) <= len(groupTopicPrefix) || topic[:len(groupTopicPrefix)] != groupTopicPrefix {
		return "", false
	}
	return topic[len(groupTopicPrefix):], true
}

func EventKindFor(status PresenceStatus) EventKind {
	switch status {
	case StatusOnline, StatusInFocusSession, StatusInBuddySession:
		return EventUserOnline
	case StatusAway, StatusBusy, StatusDoNotDisturb:
		return EventUserAway
	case StatusOffline:
		return EventUserOffline
	default:
		return EventUserOnline
	}
}

// PresenceEvent is what travels on a broadcast topic.
type PresenceEvent struct {
	ID        string       `json:"id"`
	Topic     string       `json:"topic"`
	Kind      EventKind    `json:"kind"`
	Record    PresenceView `json:"record"`
	Origin    string       `json:"origin"`
	Timestamp time.Time    `json:"timestamp"`
}
