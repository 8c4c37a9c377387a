package storage

import (
	"context"
	"errors"
	"time"

	"carbot/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("storage: not found")

// Storage defines the interface for data storage operations
type Storage interface {
	// User operations
	UpsertAdmin(ctx context.Context, userID int64, username string) error
	AddUser(ctx context.Context, userID int64, username string) error
	AddUserByUsername(ctx context.Context, username string) error

	// PromoteUserByUsername assigns a real user_id to a user previously added
	// by @username (sentinel user_id). Returns true if a row was promoted.
	PromoteUserByUsername(ctx context.Context, username string, userID int64) (bool, error)
	GetPendingUsers(ctx context.Context) ([]models.User, error)

	GetUser(ctx context.Context, userID int64) (*models.User, error)
	DeleteUser(ctx context.Context, userID int64) (bool, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.User, error)
	ListTopUsers(ctx context.Context, limit int) ([]models.UserExport, error)
	ListUsersForExport(ctx context.Context) ([]models.UserExport, error)
	SetCar(ctx context.Context, userID int64, car string) error

	// Activity log
	LogMessage(ctx context.Context, userID int64, messageType, content string) error
	LogAction(ctx context.Context, userID int64, action, object string) error

	// Request ledger
	LogRequest(ctx context.Context, userID int64, requestID, text string, status models.RequestStatus) error
	UpdateRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error

	// Quota records

	// GetOrCreateLimits loads the quota record for the user, creating an
	// unlimited one with zero counters if none exists yet.
	GetOrCreateLimits(ctx context.Context, userID int64) (*models.UserLimits, error)

	// ResetWeeklyUsage zeroes weekly_used and moves week_start to the given time.
	ResetWeeklyUsage(ctx context.Context, userID int64, weekStart time.Time) error

	// ConsumeQuota increments both usage counters and initializes week_start
	// to the given time if it was unset, in a single write.
	ConsumeQuota(ctx context.Context, userID int64, now time.Time) error

	SetUserLimits(ctx context.Context, userID int64, absoluteLimit, weeklyLimit *int) error
	SetAllUserLimits(ctx context.Context, absoluteLimit, weeklyLimit *int) error

	// Statistics
	GetStatistics(ctx context.Context, period string) (*models.Statistics, error)
	GetUserAnalytics(ctx context.Context, userID int64, period string) (*models.UserAnalytics, error)

	// Templates
	GetTemplate(ctx context.Context, key string) (string, error)
	SetTemplate(ctx context.Context, key, value, description string) error

	// Acquisition tracking
	SaveAcquisition(ctx context.Context, a models.Acquisition) error
	GetAcquisition(ctx context.Context, userID int64) (*models.Acquisition, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
