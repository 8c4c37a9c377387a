package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"carbot/internal/models"
)

// GetOrCreateLimits loads the quota record for a user, lazily creating an
// unlimited one with zero counters on first access.
func (db *PostgresDB) GetOrCreateLimits(ctx context.Context, userID int64) (*models.UserLimits, error) {
	limits, err := db.getLimits(ctx, userID)
	if err == nil {
		return limits, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get limits: %w", err)
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO user_limits (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create limits: %w", err)
	}

	limits, err = db.getLimits(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload limits: %w", err)
	}
	return limits, nil
}

func (db *PostgresDB) getLimits(ctx context.Context, userID int64) (*models.UserLimits, error) {
	l := models.UserLimits{UserID: userID}
	err := db.pool.QueryRow(ctx, `
		SELECT absolute_limit, absolute_used, weekly_limit, weekly_used, week_start
		FROM user_limits WHERE user_id = $1`, userID).
		Scan(&l.AbsoluteLimit, &l.AbsoluteUsed, &l.WeeklyLimit, &l.WeeklyUsed, &l.WeekStart)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ResetWeeklyUsage zeroes the weekly counter and advances the window start
func (db *PostgresDB) ResetWeeklyUsage(ctx context.Context, userID int64, weekStart time.Time) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE user_limits
		SET weekly_used = 0, week_start = $1
		WHERE user_id = $2`,
		weekStart, userID)
	if err != nil {
		return fmt.Errorf("failed to reset weekly usage: %w", err)
	}
	return nil
}

// ConsumeQuota increments both counters and initializes week_start if unset,
// all in one statement.
func (db *PostgresDB) ConsumeQuota(ctx context.Context, userID int64, now time.Time) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE user_limits
		SET absolute_used = absolute_used + 1,
		    weekly_used = weekly_used + 1,
		    week_start = COALESCE(week_start, $1)
		WHERE user_id = $2`,
		now, userID)
	if err != nil {
		return fmt.Errorf("failed to consume quota: %w", err)
	}
	return nil
}

// SetUserLimits overwrites the stored limits without touching usage counters.
// Nil clears a limit back to unlimited.
func (db *PostgresDB) SetUserLimits(ctx context.Context, userID int64, absoluteLimit, weeklyLimit *int) error {
	if _, err := db.GetOrCreateLimits(ctx, userID); err != nil {
		return err
	}
	_, err := db.pool.Exec(ctx, `
		UPDATE user_limits
		SET absolute_limit = $1, weekly_limit = $2
		WHERE user_id = $3`,
		absoluteLimit, weeklyLimit, userID)
	if err != nil {
		return fmt.Errorf("failed to set limits: %w", err)
	}
	return nil
}

// SetAllUserLimits applies the same limits to every quota record
func (db *PostgresDB) SetAllUserLimits(ctx context.Context, absoluteLimit, weeklyLimit *int) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE user_limits
		SET absolute_limit = $1, weekly_limit = $2`,
		absoluteLimit, weeklyLimit)
	if err != nil {
		return fmt.Errorf("failed to set limits for all users: %w", err)
	}
	return nil
}
