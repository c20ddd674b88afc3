package models

import (
	"time"
)

type PresenceStatus string

const (
	StatusOffline        PresenceStatus = "OFFLINE"
	StatusOnline         PresenceStatus = "ONLINE"
	StatusAway           PresenceStatus = "AWAY"
	StatusBusy           PresenceStatus = "BUSY"
	StatusDoNotDisturb   PresenceStatus = "DO_NOT_DISTURB"
	StatusInFocusSession PresenceStatus = "IN_FOCUS_SESSION"
	StatusInBuddySession PresenceStatus = "IN_BUDDY_SESSION"
)

var validStatuses = map[PresenceStatus]bool{
	StatusOffline:        true,
	StatusOnline:         true,
	StatusAway:           true,
	StatusBusy:           true,
	StatusDoNotDisturb:   true,
	StatusInFocusSession: true,
	StatusInBuddySession: true,
}

func (s PresenceStatus) Valid() bool {
	return validStatuses[s]
}

// Presence is the authoritative record kept in the distributed store, one per user.
// An OFFLINE user has no record at all.
type Presence struct {
	UserID                string         `json:"userId"`
	Status                PresenceStatus `json:"status"`
	GroupID               string         `json:"groupId,omitempty"`
	CurrentActivity       string         `json:"currentActivity,omitempty"`
	FocusMinutesRemaining *int           `json:"focusMinutesRemaining,omitempty"`
	// FocusSettledAt is the instant FocusMinutesRemaining was last brought up to date.
	FocusSettledAt *time.Time `json:"focusSettledAt,omitempty"`
	LastSeen       time.Time  `json:"lastSeen"`
}

func (p *Presence) Clone() *Presence {
	if p == nil {
		return nil
	}
	c := *p
	if p.FocusMinutesRemaining != nil {
		m := *p.FocusMinutesRemaining
		c.FocusMinutesRemaining = &m
	}
	if p.FocusSettledAt != nil {
		at := *p.FocusSettledAt
		c.FocusSettledAt = &at
	}
	return &c
}

// ClearFocus drops the countdown fields; they only mean something while IN_FOCUS_SESSION.
func (p *Presence) ClearFocus() {
	p.FocusMinutesRemaining = nil
	p.FocusSettledAt = nil
}

func (p *Presence) SetFocus(minutes int, settledAt time.Time) {
	p.FocusMinutesRemaining = &minutes
	p.FocusSettledAt = &settledAt
}

// Touch moves LastSeen forward to now, never backward.
func (p *Presence) Touch(now time.Time) {
	if now.After(p.LastSeen) {
		p.LastSeen = now
	}
}

// PresenceView is a record as served to readers, with the connection count
// derived from the local connection registry at read time.
type PresenceView struct {
	Presence
	ActiveSessionCount int `json:"activeSessionCount"`
}

func OfflinePresence(userID string) *Presence {
	return &Presence{
		UserID:   userID,
		Status:   StatusOffline,
		LastSeen: time.Time{}, // Zero time indicates unknown
	}
}

type ConnectionEntry struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	// GroupID is the scope hint the client connected with, if any.
	GroupID  string    `json:"groupId,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

type GroupSnapshot struct {
	GroupID   string          `json:"groupId"`
	Users     []*PresenceView `json:"users"`
	Count     int             `json:"count"`
	Timestamp time.Time       `json:"timestamp"`
}
