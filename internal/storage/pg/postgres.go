package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"carbot/internal/models"
)

// PostgresDB implements storage.Storage on top of a pgx connection pool
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB creates a new Postgres connection pool
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Initialize seeds default text templates. Tables are managed via migrations
// (see migrations/ directory).
func (db *PostgresDB) Initialize(ctx context.Context) error {
	for key, tpl := range models.DefaultTemplates {
		_, err := db.pool.Exec(ctx, `
			INSERT INTO text_templates (key, value, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING`,
			key, tpl.Value, tpl.Description)
		if err != nil {
			return fmt.Errorf("failed to seed template %q: %w", key, err)
		}
	}
	return nil
}

// LogMessage records an incoming message in the activity log
func (db *PostgresDB) LogMessage(ctx context.Context, userID int64, messageType, content string) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO messages (user_id, message_type, content)
		VALUES ($1, $2, $3)`,
		userID, messageType, content)
	if err != nil {
		return fmt.Errorf("failed to log message: %w", err)
	}
	return nil
}

// LogAction records a user action (set_car, limit_exhausted, ...)
func (db *PostgresDB) LogAction(ctx context.Context, userID int64, action, object string) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO user_actions_log (user_id, action, object)
		VALUES ($1, $2, $3)`,
		userID, action, object)
	if err != nil {
		return fmt.Errorf("failed to log action: %w", err)
	}
	return nil
}

// LogRequest inserts a request ledger entry
func (db *PostgresDB) LogRequest(ctx context.Context, userID int64, requestID, text string, status models.RequestStatus) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO rag_requests (user_id, request_id, text, status)
		VALUES ($1, $2, $3, $4)`,
		userID, requestID, text, string(status))
	if err != nil {
		return fmt.Errorf("failed to log rag request: %w", err)
	}
	return nil
}

// UpdateRequestStatus moves a ledger entry to a terminal status.
// Repeating the same terminal status is a no-op update.
func (db *PostgresDB) UpdateRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE rag_requests SET status = $1 WHERE request_id = $2`,
		string(status), requestID)
	if err != nil {
		return fmt.Errorf("failed to update rag request status: %w", err)
	}
	return nil
}

// GetTemplate returns the stored text for a template key
func (db *PostgresDB) GetTemplate(ctx context.Context, key string) (string, error) {
	var value string
	err := db.pool.QueryRow(ctx, `SELECT value FROM text_templates WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return "", wrapNoRows(err, "failed to get template")
	}
	return value, nil
}

// SetTemplate creates or replaces a template
func (db *PostgresDB) SetTemplate(ctx context.Context, key, value, description string) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO text_templates (key, value, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value, description)
	if err != nil {
		return fmt.Errorf("failed to set template %q: %w", key, err)
	}
	return nil
}

// SaveAcquisition stores the /start deep-link payload once per user
func (db *PostgresDB) SaveAcquisition(ctx context.Context, a models.Acquisition) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO user_acquisition (user_id, payload_raw, payload_decoded, src, campaign, ad, language_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING`,
		a.UserID, a.PayloadRaw, a.PayloadDecoded, a.Src, a.Campaign, a.Ad, a.LanguageCode)
	if err != nil {
		return fmt.Errorf("failed to save acquisition: %w", err)
	}
	return nil
}

// GetAcquisition returns acquisition info for a user, or storage.ErrNotFound
func (db *PostgresDB) GetAcquisition(ctx context.Context, userID int64) (*models.Acquisition, error) {
	var a models.Acquisition
	err := db.pool.QueryRow(ctx, `
		SELECT user_id, payload_raw, payload_decoded, src, campaign, ad, language_code
		FROM user_acquisition WHERE user_id = $1`, userID).
		Scan(&a.UserID, &a.PayloadRaw, &a.PayloadDecoded, &a.Src, &a.Campaign, &a.Ad, &a.LanguageCode)
	if err != nil {
		return nil, wrapNoRows(err, "failed to get acquisition")
	}
	return &a, nil
}

// Close closes the connection pool
func (db *PostgresDB) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}
	return nil
}
