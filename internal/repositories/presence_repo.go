package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prudhvinik1/focuspresence/internal/metrics"
	"github.com/prudhvinik1/focuspresence/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:user:"
	recoveryKeyPrefix = "presence:recovery:"
	groupMembersKey   = "presence:group:%s:members"
	// Member sets are refreshed on every upsert into the group.
	groupSetTTL = 24 * time.Hour
	scanCount   = 100

	defaultStoreTimeout = 2 * time.Second
	defaultStoreRetries = 3
)

type RedisPresenceStore struct {
	client     *redis.Client
	timeout    time.Duration
	retries    uint64
	metrics    *metrics.Metrics
	newBackOff func() backoff.BackOff
}

type StoreOption func(*RedisPresenceStore)

// WithTimeout bounds every individual attempt against Redis.
func WithTimeout(d time.Duration) StoreOption {
	return func(r *RedisPresenceStore) { r.timeout = d }
}

func WithRetries(n uint64) StoreOption {
	return func(r *RedisPresenceStore) { r.retries = n }
}

func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(r *RedisPresenceStore) { r.metrics = m }
}

func WithBackOff(fn func() backoff.BackOff) StoreOption {
	return func(r *RedisPresenceStore) { r.newBackOff = fn }
}

func NewRedisPresenceStore(client *redis.Client, opts ...StoreOption) *RedisPresenceStore {
	r := &RedisPresenceStore{
		client:     client,
		timeout:    defaultStoreTimeout,
		retries:    defaultStoreRetries,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = time.Second
	eb.MaxElapsedTime = 0 // bounded by the retry count instead
	return eb
}

// do runs fn with a per-attempt timeout, retrying transient failures with
// exponential backoff. redis.Nil is never retried and surfaces as ErrNotFound.
func (r *RedisPresenceStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.retries), ctx)

	err := backoff.RetryNotify(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		err := fn(attemptCtx)
		if errors.Is(err, redis.Nil) {
			return backoff.Permanent(ErrNotFound)
		}
		return err
	}, b, func(error, time.Duration) {
		r.metrics.RecordStoreRetry(op)
	})

	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	r.metrics.RecordStoreFailure(op)
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// Upsert is a full-record replacement; the last writer wins.
func (r *RedisPresenceStore) Upsert(ctx context.Context, presence *models.Presence, previousGroupID string, ttl time.Duration) error {
	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	key := presenceKey(presence.UserID)
	return r.do(ctx, "upsert", func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			if previousGroupID != "" && previousGroupID != presence.GroupID {
				pipe.SRem(ctx, groupKey(previousGroupID), presence.UserID)
			}
			if presence.GroupID != "" {
				pipe.SAdd(ctx, groupKey(presence.GroupID), presence.UserID)
				pipe.Expire(ctx, groupKey(presence.GroupID), groupSetTTL)
			}
			return nil
		})
		return err
	})
}

func (r *RedisPresenceStore) Get(ctx context.Context, userID string) (*models.Presence, error) {
	return r.getRecord(ctx, "get", presenceKey(userID))
}

// GetBulk retrieves presence for multiple users in a single round trip.
// Users without a record are absent from the result.
func (r *RedisPresenceStore) GetBulk(ctx context.Context, userIDs []string) (map[string]*models.Presence, error) {
	presenceMap := make(map[string]*models.Presence, len(userIDs))
	if len(userIDs) == 0 {
		return presenceMap, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}

	var results []interface{}
	err := r.do(ctx, "get_bulk", func(ctx context.Context) error {
		var err error
		results, err = r.client.MGet(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	for i, result := range results {
		data, ok := result.(string)
		if !ok {
			continue
		}
		var presence models.Presence
		if err := json.Unmarshal([]byte(data), &presence); err != nil {
			// If we can't unmarshal, treat as offline
			continue
		}
		presenceMap[userIDs[i]] = &presence
	}
	return presenceMap, nil
}

func (r *RedisPresenceStore) Remove(ctx context.Context, userID, groupID string) error {
	return r.do(ctx, "remove", func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, presenceKey(userID))
			if groupID != "" {
				pipe.SRem(ctx, groupKey(groupID), userID)
			}
			return nil
		})
		return err
	})
}

// ListUserIDs walks every live presence key with SCAN.
func (r *RedisPresenceStore) ListUserIDs(ctx context.Context) ([]string, error) {
	var userIDs []string
	err := r.do(ctx, "list", func(ctx context.Context) error {
		userIDs = userIDs[:0]
		iter := r.client.Scan(ctx, 0, presenceKeyPrefix+"*", scanCount).Iterator()
		for iter.Next(ctx) {
			userIDs = append(userIDs, strings.TrimPrefix(iter.Val(), presenceKeyPrefix))
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}

func (r *RedisPresenceStore) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var members []string
	err := r.do(ctx, "group_members", func(ctx context.Context) error {
		var err error
		members, err = r.client.SMembers(ctx, groupKey(groupID)).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *RedisPresenceStore) GroupCount(ctx context.Context, groupID string) (int64, error) {
	var count int64
	err := r.do(ctx, "group_count", func(ctx context.Context) error {
		var err error
		count, err = r.client.SCard(ctx, groupKey(groupID)).Result()
		return err
	})
	return count, err
}

func (r *RedisPresenceStore) RemoveFromGroup(ctx context.Context, groupID string, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	members := make([]interface{}, len(userIDs))
	for i, id := range userIDs {
		members[i] = id
	}
	return r.do(ctx, "group_remove", func(ctx context.Context) error {
		return r.client.SRem(ctx, groupKey(groupID), members...).Err()
	})
}

// SaveRecovery keeps the last record of a user who just went offline so a
// resumed connection can restore it within ttl.
func (r *RedisPresenceStore) SaveRecovery(ctx context.Context, presence *models.Presence, ttl time.Duration) error {
	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery presence: %w", err)
	}
	return r.do(ctx, "save_recovery", func(ctx context.Context) error {
		return r.client.Set(ctx, recoveryKey(presence.UserID), data, ttl).Err()
	})
}

func (r *RedisPresenceStore) GetRecovery(ctx context.Context, userID string) (*models.Presence, error) {
	return r.getRecord(ctx, "get_recovery", recoveryKey(userID))
}

func (r *RedisPresenceStore) DeleteRecovery(ctx context.Context, userID string) error {
	return r.do(ctx, "delete_recovery", func(ctx context.Context) error {
		return r.client.Del(ctx, recoveryKey(userID)).Err()
	})
}

func (r *RedisPresenceStore) getRecord(ctx context.Context, op, key string) (*models.Presence, error) {
	var data string
	err := r.do(ctx, op, func(ctx context.Context) error {
		var err error
		data, err = r.client.Get(ctx, key).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	var presence models.Presence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	return &presence, nil
}

// Helpers: build Redis keys
func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}

func recoveryKey(userID string) string {
	return recoveryKeyPrefix + userID
}

func groupKey(groupID string) string {
	return fmt.Sprintf(groupMembersKey, groupID)
}
