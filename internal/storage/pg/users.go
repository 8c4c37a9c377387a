package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"carbot/internal/models"
	"carbot/internal/storage"
)

func wrapNoRows(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// normalizeUsername stores usernames with a leading @
func normalizeUsername(username string) string {
	if username != "" && !strings.HasPrefix(username, "@") && !strings.HasPrefix(username, "user_") {
		return "@" + username
	}
	return username
}

// UpsertAdmin creates the user with the admin role, or promotes an existing one
func (db *PostgresDB) UpsertAdmin(ctx context.Context, userID int64, username string) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO users (user_id, username, role, allowed)
		VALUES ($1, $2, 'admin', TRUE)
		ON CONFLICT (user_id) DO UPDATE SET
			role = 'admin',
			allowed = TRUE,
			username = EXCLUDED.username`,
		userID, username)
	if err != nil {
		return fmt.Errorf("failed to upsert admin: %w", err)
	}
	return nil
}

// AddUser creates an allowed user, updating the username if the row exists
func (db *PostgresDB) AddUser(ctx context.Context, userID int64, username string) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO users (user_id, username, role, allowed)
		VALUES ($1, $2, 'user', TRUE)
		ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username`,
		userID, normalizeUsername(username))
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}
	return nil
}

// AddUserByUsername creates a pending user under the sentinel user_id.
// The real id is assigned when the user first writes to the bot.
func (db *PostgresDB) AddUserByUsername(ctx context.Context, username string) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO users (user_id, username, role, allowed)
		VALUES ($1, $2, 'user', TRUE)
		ON CONFLICT (user_id) DO NOTHING`,
		models.PendingUserID, normalizeUsername(username))
	if err != nil {
		return fmt.Errorf("failed to add user by username: %w", err)
	}
	return nil
}

// PromoteUserByUsername assigns a real user_id to a pending user
func (db *PostgresDB) PromoteUserByUsername(ctx context.Context, username string, userID int64) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
		UPDATE users SET user_id = $1
		WHERE username = $2 AND user_id = $3`,
		userID, normalizeUsername(username), models.PendingUserID)
	if err != nil {
		return false, fmt.Errorf("failed to promote user: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetPendingUsers returns users still waiting for their real user_id
func (db *PostgresDB) GetPendingUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT user_id, username, role, allowed, COALESCE(car, ''), created_at
		FROM users WHERE user_id = $1
		ORDER BY created_at ASC`,
		models.PendingUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// GetUser returns a user by id, or storage.ErrNotFound
func (db *PostgresDB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var u models.User
	err := db.pool.QueryRow(ctx, `
		SELECT user_id, username, role, allowed, COALESCE(car, ''), created_at
		FROM users WHERE user_id = $1`, userID).
		Scan(&u.UserID, &u.Username, &u.Role, &u.Allowed, &u.Car, &u.CreatedAt)
	if err != nil {
		return nil, wrapNoRows(err, "failed to get user")
	}
	return &u, nil
}

// DeleteUser removes a user; returns true if a row was deleted
func (db *PostgresDB) DeleteUser(ctx context.Context, userID int64) (bool, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM users WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListUsers returns users ordered by most recently added
func (db *PostgresDB) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT user_id, username, role, allowed, COALESCE(car, ''), created_at
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// ListTopUsers returns users ordered by question count
func (db *PostgresDB) ListTopUsers(ctx context.Context, limit int) ([]models.UserExport, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT u.user_id, u.username, u.role, u.allowed, COALESCE(u.car, ''), u.created_at,
		       COUNT(r.id) AS question_count
		FROM users u
		LEFT JOIN rag_requests r ON u.user_id = r.user_id
		GROUP BY u.user_id, u.username, u.role, u.allowed, u.car, u.created_at
		ORDER BY question_count DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top users: %w", err)
	}
	defer rows.Close()

	var users []models.UserExport
	for rows.Next() {
		var u models.UserExport
		if err := rows.Scan(&u.UserID, &u.Username, &u.Role, &u.Allowed, &u.Car, &u.CreatedAt, &u.QuestionCount); err != nil {
			return nil, fmt.Errorf("failed to scan top user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUsersForExport returns the full roster with question counts and
// acquisition columns for CSV export
func (db *PostgresDB) ListUsersForExport(ctx context.Context) ([]models.UserExport, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT u.user_id, u.username, u.role, u.allowed, COALESCE(u.car, ''), u.created_at,
		       COUNT(r.id) AS question_count,
		       COALESCE(ua.src, ''), COALESCE(ua.campaign, ''), COALESCE(ua.ad, '')
		FROM users u
		LEFT JOIN rag_requests r ON u.user_id = r.user_id
		LEFT JOIN user_acquisition ua ON u.user_id = ua.user_id
		GROUP BY u.user_id, u.username, u.role, u.allowed, u.car, u.created_at,
		         ua.src, ua.campaign, ua.ad
		ORDER BY u.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users for export: %w", err)
	}
	defer rows.Close()

	var users []models.UserExport
	for rows.Next() {
		var u models.UserExport
		if err := rows.Scan(&u.UserID, &u.Username, &u.Role, &u.Allowed, &u.Car, &u.CreatedAt,
			&u.QuestionCount, &u.Src, &u.Campaign, &u.Ad); err != nil {
			return nil, fmt.Errorf("failed to scan export row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetCar stores the user's car description
func (db *PostgresDB) SetCar(ctx context.Context, userID int64, car string) error {
	_, err := db.pool.Exec(ctx, `UPDATE users SET car = $1 WHERE user_id = $2`, car, userID)
	if err != nil {
		return fmt.Errorf("failed to set car: %w", err)
	}
	return nil
}

func scanUsers(rows pgx.Rows) ([]models.User, error) {
	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.UserID, &u.Username, &u.Role, &u.Allowed, &u.Car, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
