package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/coder/quartz"
	"github.com/prudhvinik1/focuspresence/internal/config"
	"github.com/prudhvinik1/focuspresence/internal/metrics"
	"github.com/prudhvinik1/focuspresence/internal/models"
	"github.com/prudhvinik1/focuspresence/internal/repositories"
)

const (
	lockStripes  = 256
	maxBulkUsers = 100
	maxStatsDays = 90

	focusActivity = "Focus Session"
)

// PresenceService applies the presence state machine. It is the only writer
// of presence records and group sets. Operations on one user are serialized
// on this instance; across instances the store's last write wins.
type PresenceService struct {
	store       repositories.PresenceStore
	stats       repositories.StatsRepository
	cache       *LocalPresenceCache
	conns       *ConnectionRegistry
	subs        *SubscriptionRegistry
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	clock       quartz.Clock
	logger      *slog.Logger
	cfg         config.PresenceConfig

	locks [lockStripes]sync.Mutex
}

type ServiceOption func(*PresenceService)

func WithClock(clock quartz.Clock) ServiceOption {
	return func(s *PresenceService) { s.clock = clock }
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *PresenceService) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *PresenceService) { s.metrics = m }
}

// WithStats enables the daily statistics counters.
func WithStats(stats repositories.StatsRepository) ServiceOption {
	return func(s *PresenceService) { s.stats = stats }
}

func NewPresenceService(
	store repositories.PresenceStore,
	cache *LocalPresenceCache,
	conns *ConnectionRegistry,
	subs *SubscriptionRegistry,
	broadcaster Broadcaster,
	cfg config.PresenceConfig,
	opts ...ServiceOption,
) *PresenceService {
	s := &PresenceService{
		store:       store,
		cache:       cache,
		conns:       conns,
		subs:        subs,
		broadcaster: broadcaster,
		cfg:         cfg,
		clock:       quartz.NewReal(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpdateRequest is an explicit status change. A nil GroupID keeps the current
// group and an empty one clears it; Activity works the same way.
type UpdateRequest struct {
	UserID   string
	Status   models.PresenceStatus
	GroupID  *string
	Activity *string
}

func (s *PresenceService) UpdatePresence(ctx context.Context, req UpdateRequest) (*models.PresenceView, error) {
	if err := validateStatus(req.Status); err != nil {
		return nil, err
	}

	unlock := s.lock(req.UserID)
	defer unlock()

	view, err := s.updateLocked(ctx, req)
	if err != nil {
		return nil, err
	}
	s.recordStats(ctx, req.UserID, models.StatsDelta{StatusUpdates: 1})
	return view, nil
}

func (s *PresenceService) updateLocked(ctx context.Context, req UpdateRequest) (*models.PresenceView, error) {
	current, err := s.current(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	if req.Status == models.StatusOffline {
		return s.goOffline(ctx, req.UserID, current, now)
	}

	if req.Status == models.StatusInFocusSession && (current == nil || current.Status != models.StatusInFocusSession) {
		return nil, newValidationError("status", "focus sessions are started with a duration")
	}

	next, previousGroup := s.nextRecord(req.UserID, current, now)
	if isSession(next.Status) && next.Status != req.Status {
		// Session labels do not survive leaving the session.
		next.CurrentActivity = ""
	}
	next.Status = req.Status
	if req.Status != models.StatusInFocusSession {
		next.ClearFocus()
	}
	if req.GroupID != nil {
		next.GroupID = *req.GroupID
	}
	if req.Activity != nil {
		next.CurrentActivity = *req.Activity
	}

	if err := s.persist(ctx, next, previousGroup); err != nil {
		return nil, err
	}
	return s.broadcast(ctx, next), nil
}

// UpdateBatchPresence applies one status per user. Every status is validated
// before anything is written; write failures are joined per user.
func (s *PresenceService) UpdateBatchPresence(ctx context.Context, updates map[string]models.PresenceStatus, groupID *string) (map[string]*models.PresenceView, error) {
	if len(updates) == 0 {
		return nil, newValidationError("updates", "must not be empty")
	}
	if len(updates) > maxBulkUsers {
		return nil, newValidationError("updates", fmt.Sprintf("at most %d users per batch", maxBulkUsers))
	}

	userIDs := make([]string, 0, len(updates))
	for userID, status := range updates {
		if userID == "" {
			return nil, newValidationError("userId", "must not be empty")
		}
		if err := validateStatus(status); err != nil {
			return nil, err
		}
		if status == models.StatusInFocusSession {
			return nil, newValidationError("status", "focus sessions cannot be set in a batch")
		}
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	results := make(map[string]*models.PresenceView, len(userIDs))
	var errs []error
	for _, userID := range userIDs {
		view, err := s.UpdatePresence(ctx, UpdateRequest{
			UserID:  userID,
			Status:  updates[userID],
			GroupID: groupID,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
			continue
		}
		results[userID] = view
	}
	return results, errors.Join(errs...)
}

// RecordActivity refreshes lastSeen. Only AWAY → ONLINE is broadcast so that
// heartbeats do not flood the feeds.
func (s *PresenceService) RecordActivity(ctx context.Context, userID string) error {
	unlock := s.lock(userID)
	defer unlock()

	current, err := s.current(ctx, userID)
	if err != nil {
		return err
	}
	now := s.clock.Now()

	if current == nil {
		if s.conns.CountFor(userID) == 0 {
			return nil
		}
		next, _ := s.nextRecord(userID, nil, now)
		next.Status = models.StatusOnline
		if err := s.persist(ctx, next, ""); err != nil {
			return err
		}
		s.broadcast(ctx, next)
		return nil
	}

	next := current.Clone()
	next.Touch(now)

	announce := false
	switch current.Status {
	case models.StatusAway:
		next.Status = models.StatusOnline
		announce = true
	case models.StatusInFocusSession:
		if _, finished := settleFocus(next, now); finished {
			endFocus(next)
			announce = true
		}
	}

	if err := s.persist(ctx, next, current.GroupID); err != nil {
		return err
	}
	if announce {
		s.broadcast(ctx, next)
	}
	return nil
}

func (s *PresenceService) StartFocusSession(ctx context.Context, userID string, groupID *string, minutes int) (*models.PresenceView, error) {
	if minutes <= 0 {
		return nil, newValidationError("minutes", "must be a positive number of minutes")
	}

	unlock := s.lock(userID)
	defer unlock()

	current, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePresent(userID, current); err != nil {
		return nil, err
	}
	now := s.clock.Now()

	next, previousGroup := s.nextRecord(userID, current, now)
	next.Status = models.StatusInFocusSession
	next.CurrentActivity = focusActivity
	next.SetFocus(minutes, now)
	if groupID != nil {
		next.GroupID = *groupID
	}

	if err := s.persist(ctx, next, previousGroup); err != nil {
		return nil, err
	}
	view := s.broadcast(ctx, next)
	s.recordStats(ctx, userID, models.StatsDelta{FocusSessions: 1, FocusMinutes: int64(minutes)})
	return view, nil
}

func (s *PresenceService) EndFocusSession(ctx context.Context, userID string) (*models.PresenceView, error) {
	return s.endSession(ctx, userID, models.StatusInFocusSession)
}

func (s *PresenceService) StartBuddySession(ctx context.Context, userID, partnerID string) (*models.PresenceView, error) {
	if partnerID == "" {
		return nil, newValidationError("partnerId", "must not be empty")
	}
	if partnerID == userID {
		return nil, newValidationError("partnerId", "cannot start a buddy session with yourself")
	}

	unlock := s.lock(userID)
	defer unlock()

	current, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePresent(userID, current); err != nil {
		return nil, err
	}
	now := s.clock.Now()

	next, previousGroup := s.nextRecord(userID, current, now)
	next.Status = models.StatusInBuddySession
	next.CurrentActivity = "Buddy Session with " + partnerID
	next.ClearFocus()

	if err := s.persist(ctx, next, previousGroup); err != nil {
		return nil, err
	}
	return s.broadcast(ctx, next), nil
}

func (s *PresenceService) EndBuddySession(ctx context.Context, userID string) (*models.PresenceView, error) {
	return s.endSession(ctx, userID, models.StatusInBuddySession)
}

func (s *PresenceService) endSession(ctx context.Context, userID string, status models.PresenceStatus) (*models.PresenceView, error) {
	unlock := s.lock(userID)
	defer unlock()

	current, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.Status != status {
		return nil, newValidationError("status", fmt.Sprintf("user is not in %s", status))
	}

	next := current.Clone()
	endFocus(next)
	next.Touch(s.clock.Now())

	if err := s.persist(ctx, next, current.GroupID); err != nil {
		return nil, err
	}
	return s.broadcast(ctx, next), nil
}

// HandleConnect attaches a connection. A user without a live record, or one
// that is AWAY, comes ONLINE; otherwise the current status is kept and only
// lastSeen is refreshed. The attach is undone when the store write fails.
func (s *PresenceService) HandleConnect(ctx context.Context, userID, connectionID, groupID string) (*models.PresenceView, error) {
	unlock := s.lock(userID)
	defer unlock()

	return s.connectLocked(ctx, userID, connectionID, groupID)
}

func (s *PresenceService) connectLocked(ctx context.Context, userID, connectionID, groupID string) (*models.PresenceView, error) {
	now := s.clock.Now()
	count := s.conns.Attach(userID, connectionID, groupID, now)
	s.metrics.ConnectionOpened()

	view, err := s.arrive(ctx, userID, groupID, now)
	if err != nil {
		s.rollbackAttach(userID, connectionID)
		return nil, err
	}

	s.logger.Info("connection attached", "user", userID, "conn", connectionID, "connections", count)
	s.recordStats(ctx, userID, models.StatsDelta{Connects: 1})
	return view, nil
}

func (s *PresenceService) arrive(ctx context.Context, userID, groupID string, now time.Time) (*models.PresenceView, error) {
	current, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}

	next, previousGroup := s.nextRecord(userID, current, now)
	if groupID != "" {
		next.GroupID = groupID
	}

	announce := current == nil || current.Status == models.StatusAway || next.GroupID != previousGroup
	if current == nil || current.Status == models.StatusAway {
		next.Status = models.StatusOnline
	}

	if err := s.persist(ctx, next, previousGroup); err != nil {
		return nil, err
	}
	if announce {
		return s.broadcast(ctx, next), nil
	}
	return s.view(next), nil
}

// HandleDisconnect detaches a connection. When it was the user's last one the
// user goes OFFLINE: the record is kept as a recovery snapshot, evicted from
// the store and every group set, and the user's subscriptions are cleared.
// Failures are logged, never returned.
func (s *PresenceService) HandleDisconnect(ctx context.Context, userID, connectionID string) {
	unlock := s.lock(userID)
	defer unlock()

	remaining, removed := s.conns.Detach(userID, connectionID)
	if !removed {
		return
	}
	s.metrics.ConnectionClosed()
	s.logger.Info("connection detached", "user", userID, "conn", connectionID, "remaining", remaining)
	if remaining > 0 {
		return
	}

	s.subs.ClearAll(userID)

	current, err := s.current(ctx, userID)
	if err != nil {
		s.logger.Error("failed to read presence on disconnect", "user", userID, "error", err)
		return
	}
	if current == nil {
		s.cache.Delete(userID)
		return
	}

	if err := s.store.SaveRecovery(ctx, current, s.cfg.RecoveryWindow); err != nil {
		s.logger.Warn("failed to save recovery snapshot", "user", userID, "error", err)
	}
	if _, err := s.goOffline(ctx, userID, current, s.clock.Now()); err != nil {
		s.logger.Error("failed to mark user offline", "user", userID, "error", err)
	}
}

// RecoverPresenceState re-attaches a resumed connection and restores the
// user's last known record, with any focus countdown reduced by the time
// spent away. Without a prior record it behaves like HandleConnect.
func (s *PresenceService) RecoverPresenceState(ctx context.Context, userID, connectionID, groupID string) (*models.PresenceView, error) {
	unlock := s.lock(userID)
	defer unlock()

	live, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}

	prior := live
	if prior == nil {
		prior, err = s.store.GetRecovery(ctx, userID)
		if errors.Is(err, repositories.ErrNotFound) {
			return s.connectLocked(ctx, userID, connectionID, groupID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read recovery snapshot: %w", err)
		}
	}

	now := s.clock.Now()
	count := s.conns.Attach(userID, connectionID, groupID, now)
	s.metrics.ConnectionOpened()

	restored := prior.Clone()
	if restored.Status == models.StatusInFocusSession {
		if _, finished := settleFocus(restored, now); finished {
			endFocus(restored)
		}
	} else {
		restored.ClearFocus()
	}
	if restored.Status == models.StatusAway || restored.Status == models.StatusOffline {
		restored.Status = models.StatusOnline
	}
	if groupID != "" {
		restored.GroupID = groupID
	}
	restored.Touch(now)

	previousGroup := ""
	if live != nil {
		previousGroup = live.GroupID
	}
	if err := s.persist(ctx, restored, previousGroup); err != nil {
		s.rollbackAttach(userID, connectionID)
		return nil, err
	}
	if err := s.store.DeleteRecovery(ctx, userID); err != nil {
		s.logger.Warn("failed to delete recovery snapshot", "user", userID, "error", err)
	}

	s.logger.Info("presence recovered", "user", userID, "conn", connectionID, "status", restored.Status, "connections", count)
	s.recordStats(ctx, userID, models.StatsDelta{Connects: 1})
	return s.broadcast(ctx, restored), nil
}

// GetPresence serves a fresh cache entry when there is one and reads through
// to the store otherwise. Unknown users are reported OFFLINE. If the store is
// unreachable a stale cache entry is served instead of failing.
func (s *PresenceService) GetPresence(ctx context.Context, userID string) (*models.PresenceView, error) {
	if cached, ok := s.cache.Get(userID); ok {
		return s.view(cached), nil
	}

	presence, err := s.store.Get(ctx, userID)
	switch {
	case err == nil:
		s.cache.Put(presence)
		return s.view(presence), nil
	case errors.Is(err, repositories.ErrNotFound):
		s.cache.Delete(userID)
		return s.view(models.OfflinePresence(userID)), nil
	default:
		if stale, ok := s.cache.Stale(userID); ok {
			s.logger.Warn("serving stale presence", "user", userID, "error", err)
			return s.view(stale), nil
		}
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}
}

func (s *PresenceService) GetBulkPresence(ctx context.Context, userIDs []string) (map[string]*models.PresenceView, error) {
	if len(userIDs) > maxBulkUsers {
		return nil, newValidationError("userIds", fmt.Sprintf("at most %d users per request", maxBulkUsers))
	}

	unique := make([]string, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	records, err := s.store.GetBulk(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to get bulk presence: %w", err)
	}

	result := make(map[string]*models.PresenceView, len(unique))
	for _, id := range unique {
		if presence, ok := records[id]; ok {
			result[id] = s.view(presence)
			continue
		}
		result[id] = s.view(models.OfflinePresence(id))
	}
	return result, nil
}

// GetGroupSnapshot lists the users currently presenting into a group, sorted
// by user id. Set members whose record is gone or points elsewhere are
// dropped from the set on the way.
func (s *PresenceService) GetGroupSnapshot(ctx context.Context, groupID string) (*models.GroupSnapshot, error) {
	if groupID == "" {
		return nil, newValidationError("groupId", "must not be empty")
	}

	members, err := s.store.GroupMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	records, err := s.store.GetBulk(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("failed to get group presence: %w", err)
	}

	users := make([]*models.PresenceView, 0, len(members))
	var stale []string
	for _, userID := range members {
		presence, ok := records[userID]
		if !ok || presence.Status == models.StatusOffline || presence.GroupID != groupID {
			stale = append(stale, userID)
			continue
		}
		users = append(users, s.view(presence))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })

	if len(stale) > 0 {
		if err := s.store.RemoveFromGroup(ctx, groupID, stale...); err != nil {
			s.logger.Warn("failed to prune group set", "group", groupID, "error", err)
		}
	}

	return &models.GroupSnapshot{
		GroupID:   groupID,
		Users:     users,
		Count:     len(users),
		Timestamp: s.clock.Now().UTC(),
	}, nil
}

// GroupCount is the size of the group's member set, which may still hold
// entries the next snapshot will prune.
func (s *PresenceService) GroupCount(ctx context.Context, groupID string) (int64, error) {
	if groupID == "" {
		return 0, newValidationError("groupId", "must not be empty")
	}
	count, err := s.store.GroupCount(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to count group: %w", err)
	}
	return count, nil
}

func (s *PresenceService) Subscribe(userID string, groupIDs ...string) []string {
	s.subs.Subscribe(userID, groupIDs...)
	return s.subs.Groups(userID)
}

func (s *PresenceService) Unsubscribe(userID, groupID string) []string {
	s.subs.Unsubscribe(userID, groupID)
	return s.subs.Groups(userID)
}

// GetStats returns the user's daily counters for the last days days, newest first.
func (s *PresenceService) GetStats(ctx context.Context, userID string, days int) ([]*models.DailyStats, error) {
	if days <= 0 || days > maxStatsDays {
		return nil, newValidationError("days", fmt.Sprintf("must be between 1 and %d", maxStatsDays))
	}
	if s.stats == nil {
		return []*models.DailyStats{}, nil
	}
	since := s.clock.Now().UTC().AddDate(0, 0, -(days - 1))
	stats, err := s.stats.ListByUser(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	if stats == nil {
		stats = []*models.DailyStats{}
	}
	return stats, nil
}

func (s *PresenceService) MetricsSummary() metrics.Summary {
	return s.metrics.Summary()
}

// decay applies the time-driven transitions to one user against a fresh
// store read. It returns the transition applied, or "" for none.
func (s *PresenceService) decay(ctx context.Context, userID string, now time.Time) (string, error) {
	unlock := s.lock(userID)
	defer unlock()

	current, err := s.current(ctx, userID)
	if err != nil {
		return "", err
	}
	if current == nil {
		s.cache.Delete(userID)
		return "", nil
	}

	if current.Status == models.StatusInFocusSession {
		next := current.Clone()
		changed, finished := settleFocus(next, now)
		switch {
		case finished:
			endFocus(next)
			next.Touch(now)
			if err := s.persist(ctx, next, current.GroupID); err != nil {
				return "", err
			}
			s.broadcast(ctx, next)
			return transitionFocusComplete, nil
		case changed:
			if err := s.persist(ctx, next, current.GroupID); err != nil {
				return "", err
			}
			return transitionFocusTick, nil
		}
		return "", nil
	}

	idle := now.Sub(current.LastSeen)
	if idle > s.cfg.OfflineThreshold {
		if _, err := s.goOffline(ctx, userID, current, now); err != nil {
			return "", err
		}
		return transitionOffline, nil
	}

	if current.Status == models.StatusOnline && idle > s.cfg.AwayThreshold {
		next := current.Clone()
		next.Status = models.StatusAway
		if err := s.persist(ctx, next, current.GroupID); err != nil {
			return "", err
		}
		s.broadcast(ctx, next)
		return transitionAway, nil
	}
	return "", nil
}

// goOffline evicts the user's record and announces OFFLINE on the feeds of
// the group it was presenting into.
func (s *PresenceService) goOffline(ctx context.Context, userID string, current *models.Presence, now time.Time) (*models.PresenceView, error) {
	offline := models.OfflinePresence(userID)
	if current != nil {
		offline.GroupID = current.GroupID
		if err := s.store.Remove(ctx, userID, current.GroupID); err != nil {
			return nil, fmt.Errorf("failed to remove presence: %w", err)
		}
	}
	offline.LastSeen = now
	s.cache.Delete(userID)
	s.metrics.RecordUpdate(string(models.StatusOffline))
	s.metrics.SetUsersTracked(s.cache.Size())
	return s.broadcast(ctx, offline), nil
}

// current reads the authoritative record. A missing record is (nil, nil).
func (s *PresenceService) current(ctx context.Context, userID string) (*models.Presence, error) {
	presence, err := s.store.Get(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	return presence, nil
}

// nextRecord starts the replacement record from the current one, touched to
// now, and reports the group it is leaving.
func (s *PresenceService) nextRecord(userID string, current *models.Presence, now time.Time) (*models.Presence, string) {
	if current == nil {
		return &models.Presence{
			UserID:   userID,
			Status:   models.StatusOnline,
			LastSeen: now,
		}, ""
	}
	next := current.Clone()
	next.Touch(now)
	return next, current.GroupID
}

// persist writes the record to the store and only then mirrors it locally.
func (s *PresenceService) persist(ctx context.Context, presence *models.Presence, previousGroup string) error {
	if err := s.store.Upsert(ctx, presence, previousGroup, s.ttlFor(presence)); err != nil {
		return fmt.Errorf("failed to save presence: %w", err)
	}
	s.cache.Put(presence)
	s.metrics.RecordUpdate(string(presence.Status))
	s.metrics.SetUsersTracked(s.cache.Size())
	return nil
}

func (s *PresenceService) ttlFor(presence *models.Presence) time.Duration {
	switch presence.Status {
	case models.StatusInFocusSession:
		remaining := 0
		if presence.FocusMinutesRemaining != nil {
			remaining = *presence.FocusMinutesRemaining
		}
		return time.Duration(remaining)*time.Minute + s.cfg.FocusGrace
	case models.StatusInBuddySession:
		return s.cfg.BuddyTTL
	default:
		// Outlive the offline threshold by a sweep so a sweeper announces the
		// transition before the key expires.
		return s.cfg.OfflineThreshold + s.cfg.SweepInterval
	}
}

func (s *PresenceService) broadcast(ctx context.Context, presence *models.Presence) *models.PresenceView {
	view := s.view(presence)
	if err := s.broadcaster.Broadcast(ctx, view); err != nil {
		s.logger.Warn("failed to broadcast presence", "user", presence.UserID, "status", presence.Status, "error", err)
	}
	return view
}

func (s *PresenceService) view(presence *models.Presence) *models.PresenceView {
	return &models.PresenceView{
		Presence:           *presence.Clone(),
		ActiveSessionCount: s.conns.CountFor(presence.UserID),
	}
}

func (s *PresenceService) rollbackAttach(userID, connectionID string) {
	if _, removed := s.conns.Detach(userID, connectionID); removed {
		s.metrics.ConnectionClosed()
	}
}

func (s *PresenceService) recordStats(ctx context.Context, userID string, delta models.StatsDelta) {
	if s.stats == nil {
		return
	}
	if err := s.stats.Increment(ctx, userID, s.clock.Now(), delta); err != nil {
		s.logger.Warn("failed to record presence stats", "user", userID, "error", err)
	}
}

func (s *PresenceService) lock(userID string) func() {
	mu := &s.locks[xxhash.Sum64String(userID)%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// requirePresent rejects session starts for a user with neither a live record
// nor a connection on this instance.
func (s *PresenceService) requirePresent(userID string, current *models.Presence) error {
	if current == nil && s.conns.CountFor(userID) == 0 {
		return newValidationError("userId", "user is offline")
	}
	return nil
}

func validateStatus(status models.PresenceStatus) error {
	if !status.Valid() {
		return newValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	return nil
}

// settleFocus charges the whole minutes elapsed since the countdown was last
// settled. The anchor advances by exactly the minutes charged, so repeated
// calls never double count and sub-minute jitter carries over.
func settleFocus(p *models.Presence, now time.Time) (changed, finished bool) {
	if p.FocusMinutesRemaining == nil {
		return false, true
	}
	anchor := p.LastSeen
	if p.FocusSettledAt != nil {
		anchor = *p.FocusSettledAt
	}

	elapsed := int(now.Sub(anchor) / time.Minute)
	remaining := *p.FocusMinutesRemaining
	if elapsed <= 0 {
		return false, remaining <= 0
	}

	remaining -= elapsed
	if remaining <= 0 {
		return true, true
	}
	p.SetFocus(remaining, anchor.Add(time.Duration(elapsed)*time.Minute))
	return true, false
}

func isSession(status models.PresenceStatus) bool {
	return status == models.StatusInFocusSession || status == models.StatusInBuddySession
}

// endFocus returns a session state to plain ONLINE.
func endFocus(p *models.Presence) {
	p.Status = models.StatusOnline
	p.ClearFocus()
	p.CurrentActivity = ""
}
