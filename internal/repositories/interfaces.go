package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/prudhvinik1/focuspresence/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable is returned once a store operation has exhausted its retries.
	ErrStoreUnavailable = errors.New("presence store unavailable")
)

// PresenceStore is the authoritative, TTL-backed presence state shared by every instance.
// Each method touches a single user's keys.
type PresenceStore interface {
	// Upsert replaces the user's record and moves it from previousGroupID's member set
	// into its own group's set.
	Upsert(ctx context.Context, presence *models.Presence, previousGroupID string, ttl time.Duration) error
	Get(ctx context.Context, userID string) (*models.Presence, error)
	GetBulk(ctx context.Context, userIDs []string) (map[string]*models.Presence, error)
	// Remove deletes the record and drops the user from groupID's member set.
	Remove(ctx context.Context, userID, groupID string) error
	ListUserIDs(ctx context.Context) ([]string, error)

	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	GroupCount(ctx context.Context, groupID string) (int64, error)
	RemoveFromGroup(ctx context.Context, groupID string, userIDs ...string) error

	SaveRecovery(ctx context.Context, presence *models.Presence, ttl time.Duration) error
	GetRecovery(ctx context.Context, userID string) (*models.Presence, error)
	DeleteRecovery(ctx context.Context, userID string) error
}

type StatsRepository interface {
	Increment(ctx context.Context, userID string, day time.Time, delta models.StatsDelta) error
	ListByUser(ctx context.Context, userID string, since time.Time) ([]*models.DailyStats, error)
}
