package models

import (
	"time"
)

// DailyStats are the per-user, per-UTC-day presence counters.
type DailyStats struct {
	UserID        string    `json:"userId"`
	Day           time.Time `json:"day"`
	Connects      int64     `json:"connects"`
	StatusUpdates int64     `json:"statusUpdates"`
	FocusSessions int64     `json:"focusSessions"`
	FocusMinutes  int64     `json:"focusMinutes"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type StatsDelta struct {
	Connects      int64
	StatusUpdates int64
	FocusSessions int64
	FocusMinutes  int64
}
