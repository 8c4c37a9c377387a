package pg

import (
	"context"
	"errors"
	"fmt"

	"carbot/internal/models"
	"carbot/internal/storage"
)

// periodInterval maps a report period to a Postgres interval literal.
// Unknown periods fall back to one day.
func periodInterval(period string) string {
	switch period {
	case "month":
		return "1 month"
	case "year":
		return "1 year"
	default:
		return "1 day"
	}
}

// GetStatistics builds the aggregate report for a period
func (db *PostgresDB) GetStatistics(ctx context.Context, period string) (*models.Statistics, error) {
	interval := periodInterval(period)
	stats := &models.Statistics{Period: period}

	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.TotalUsers); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	counts := []struct {
		dst   *int
		query string
	}{
		{&stats.ActiveUsers, `SELECT COUNT(DISTINCT user_id) FROM messages WHERE created_at >= NOW() - $1::interval`},
		{&stats.NewUsers, `SELECT COUNT(*) FROM users WHERE created_at >= NOW() - $1::interval`},
		{&stats.TotalMessages, `SELECT COUNT(*) FROM messages WHERE created_at >= NOW() - $1::interval`},
		{&stats.Commands, `SELECT COUNT(*) FROM messages WHERE message_type = 'command' AND created_at >= NOW() - $1::interval`},
		{&stats.TextMessages, `SELECT COUNT(*) FROM messages WHERE message_type = 'text' AND created_at >= NOW() - $1::interval`},
		{&stats.RAGRequests, `SELECT COUNT(*) FROM rag_requests WHERE created_at >= NOW() - $1::interval`},
		{&stats.RAGFailed, `SELECT COUNT(*) FROM rag_requests WHERE status = 'failed' AND created_at >= NOW() - $1::interval`},
		{&stats.CarSet, `SELECT COUNT(*) FROM user_actions_log WHERE action = 'set_car' AND created_at >= NOW() - $1::interval`},
		{&stats.LimitsExhausted, `SELECT COUNT(*) FROM user_actions_log WHERE action = 'limit_exhausted' AND created_at >= NOW() - $1::interval`},
	}
	for _, c := range counts {
		if err := db.pool.QueryRow(ctx, c.query, interval).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count statistics: %w", err)
		}
	}

	rows, err := db.pool.Query(ctx, `
		SELECT u.user_id, u.username, COUNT(m.id) AS message_count
		FROM users u
		JOIN messages m ON u.user_id = m.user_id
		WHERE m.created_at >= NOW() - $1::interval
		GROUP BY u.user_id, u.username
		ORDER BY message_count DESC
		LIMIT 5`, interval)
	if err != nil {
		return nil, fmt.Errorf("failed to query top users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ua models.UserActivity
		if err := rows.Scan(&ua.UserID, &ua.Username, &ua.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan top user: %w", err)
		}
		stats.TopUsers = append(stats.TopUsers, ua)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roleRows, err := db.pool.Query(ctx, `
		SELECT role, COUNT(*) FROM users
		WHERE created_at >= NOW() - $1::interval
		GROUP BY role`, interval)
	if err != nil {
		return nil, fmt.Errorf("failed to query role stats: %w", err)
	}
	defer roleRows.Close()
	for roleRows.Next() {
		var rc models.RoleCount
		if err := roleRows.Scan(&rc.Role, &rc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan role count: %w", err)
		}
		stats.RoleStats = append(stats.RoleStats, rc)
	}
	return stats, roleRows.Err()
}

// GetUserAnalytics builds the per-user report for a period
func (db *PostgresDB) GetUserAnalytics(ctx context.Context, userID int64, period string) (*models.UserAnalytics, error) {
	interval := periodInterval(period)
	a := &models.UserAnalytics{UserID: userID}

	counts := []struct {
		dst   *int
		query string
	}{
		{&a.TotalMessages, `SELECT COUNT(*) FROM messages WHERE user_id = $1 AND created_at >= NOW() - $2::interval`},
		{&a.CommandMessages, `SELECT COUNT(*) FROM messages WHERE user_id = $1 AND message_type = 'command' AND created_at >= NOW() - $2::interval`},
		{&a.TextMessages, `SELECT COUNT(*) FROM messages WHERE user_id = $1 AND message_type = 'text' AND created_at >= NOW() - $2::interval`},
		{&a.RAGRequests, `SELECT COUNT(*) FROM rag_requests WHERE user_id = $1 AND created_at >= NOW() - $2::interval`},
		{&a.RAGFailed, `SELECT COUNT(*) FROM rag_requests WHERE user_id = $1 AND status = 'failed' AND created_at >= NOW() - $2::interval`},
		{&a.CarSet, `SELECT COUNT(*) FROM user_actions_log WHERE user_id = $1 AND action = 'set_car' AND created_at >= NOW() - $2::interval`},
		{&a.LimitsExhausted, `SELECT COUNT(*) FROM user_actions_log WHERE user_id = $1 AND action = 'limit_exhausted' AND created_at >= NOW() - $2::interval`},
	}
	for _, c := range counts {
		if err := db.pool.QueryRow(ctx, c.query, userID, interval).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count user analytics: %w", err)
		}
	}

	user, err := db.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if user != nil {
		a.Username = user.Username
		firstSeen := user.CreatedAt
		a.FirstSeenAt = &firstSeen
		a.IsBlocked = !user.Allowed
		a.IsAdmin = user.IsAdmin()
		a.Car = user.Car
	} else {
		a.IsBlocked = true
	}

	if acq, err := db.GetAcquisition(ctx, userID); err == nil {
		a.Src = acq.Src
		a.Campaign = acq.Campaign
		a.Ad = acq.Ad
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	limits, err := db.GetOrCreateLimits(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limits.AbsoluteLimit != nil && limits.AbsoluteUsed >= *limits.AbsoluteLimit {
		a.LimitsReached = true
	} else if limits.WeeklyLimit != nil && limits.WeeklyUsed >= *limits.WeeklyLimit {
		a.LimitsReached = true
	}

	return a, nil
}
