package repositories

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/focuspresence/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStatsRepository_Increment tests that counters accumulate per user per day
func TestStatsRepository_Increment(t *testing.T) {
	// ARRANGE
	pool := getTestPool(t)
	repo := NewPostgresStatsRepository(pool)
	ctx := context.Background()
	require.NoError(t, repo.EnsureSchema(ctx))

	userID := uuid.NewString()
	defer cleanupTestStats(t, pool, userID)

	day := time.Date(2026, 3, 14, 22, 30, 0, 0, time.UTC)

	// ACT: two increments on the same day, one on the next
	require.NoError(t, repo.Increment(ctx, userID, day, models.StatsDelta{Connects: 1}))
	require.NoError(t, repo.Increment(ctx, userID, day.Add(time.Hour), models.StatsDelta{FocusSessions: 1, FocusMinutes: 25}))
	require.NoError(t, repo.Increment(ctx, userID, day.Add(-24*time.Hour), models.StatsDelta{StatusUpdates: 3}))

	// ASSERT
	stats, err := repo.ListByUser(ctx, userID, day.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, 2026, stats[0].Day.Year())
	assert.Equal(t, time.March, stats[0].Day.Month())
	assert.Equal(t, 15, stats[0].Day.Day(), "22:30 + 1h rolls into the next UTC day")
	assert.Equal(t, int64(1), stats[0].FocusSessions)
	assert.Equal(t, int64(25), stats[0].FocusMinutes)

	assert.Equal(t, 14, stats[1].Day.Day())
	assert.Equal(t, int64(1), stats[1].Connects)

	older, err := repo.ListByUser(ctx, userID, day.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Len(t, older, 3)
}

// Helper functions for test setup

// getTestPool returns a pool against TEST_DATABASE_URL or skips the test
func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(pool.Close)
	return pool
}

func cleanupTestStats(t *testing.T, pool *pgxpool.Pool, userID string) {
	_, err := pool.Exec(context.Background(), `DELETE FROM presence_daily_stats WHERE user_id = $1`, userID)
	if err != nil {
		t.Logf("Warning: failed to cleanup test stats: %v", err)
	}
}
