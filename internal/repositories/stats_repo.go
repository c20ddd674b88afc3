package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/focuspresence/internal/models"
)

const statsSchema = `CREATE TABLE IF NOT EXISTS presence_daily_stats (
	user_id        TEXT        NOT NULL,
	day            DATE        NOT NULL,
	connects       BIGINT      NOT NULL DEFAULT 0,
	status_updates BIGINT      NOT NULL DEFAULT 0,
	focus_sessions BIGINT      NOT NULL DEFAULT 0,
	focus_minutes  BIGINT      NOT NULL DEFAULT 0,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, day)
)`

type PostgresStatsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresStatsRepository(pool *pgxpool.Pool) *PostgresStatsRepository {
	return &PostgresStatsRepository{pool: pool}
}

func (r *PostgresStatsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, statsSchema); err != nil {
		return fmt.Errorf("failed to create presence_daily_stats: %w", err)
	}
	return nil
}

// Increment adds delta to the user's counters for the UTC day containing day.
func (r *PostgresStatsRepository) Increment(ctx context.Context, userID string, day time.Time, delta models.StatsDelta) error {
	query := `INSERT INTO presence_daily_stats (user_id, day, connects, status_updates, focus_sessions, focus_minutes)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (user_id, day) DO UPDATE SET
	              connects       = presence_daily_stats.connects + EXCLUDED.connects,
	              status_updates = presence_daily_stats.status_updates + EXCLUDED.status_updates,
	              focus_sessions = presence_daily_stats.focus_sessions + EXCLUDED.focus_sessions,
	              focus_minutes  = presence_daily_stats.focus_minutes + EXCLUDED.focus_minutes,
	              updated_at     = NOW()`

	_, err := r.pool.Exec(ctx, query,
		userID,
		truncateDay(day),
		delta.Connects,
		delta.StatusUpdates,
		delta.FocusSessions,
		delta.FocusMinutes,
	)
	if err != nil {
		return fmt.Errorf("failed to increment presence stats: %w", err)
	}
	return nil
}

func (r *PostgresStatsRepository) ListByUser(ctx context.Context, userID string, since time.Time) ([]*models.DailyStats, error) {
	query := `SELECT user_id, day, connects, status_updates, focus_sessions, focus_minutes, updated_at
	          FROM presence_daily_stats
	          WHERE user_id = $1 AND day >= $2
	          ORDER BY day DESC`

	rows, err := r.pool.Query(ctx, query, userID, truncateDay(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query presence stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.DailyStats
	for rows.Next() {
		var s models.DailyStats
		err := rows.Scan(
			&s.UserID,
			&s.Day,
			&s.Connects,
			&s.StatusUpdates,
			&s.FocusSessions,
			&s.FocusMinutes,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan presence stats: %w", err)
		}
		stats = append(stats, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating presence stats: %w", err)
	}
	return stats, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
