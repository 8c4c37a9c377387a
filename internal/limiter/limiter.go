// Package limiter gates how many questions a user may ask. Each user has a
// quota record with an absolute (lifetime) limit and a rolling 7-day limit;
// nil limits mean unlimited. Limits are inclusive: a user whose usage has
// reached the limit is denied.
package limiter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"carbot/internal/models"
)

// WeekDuration is the length of the rolling weekly window
const WeekDuration = 7 * 24 * time.Hour

// Denial reasons
const (
	ReasonAbsoluteLimitExceeded = "absolute_limit_exceeded"
	ReasonWeeklyLimitExceeded   = "weekly_limit_exceeded"
)

// Store is the storage surface the limiter needs
type Store interface {
	GetOrCreateLimits(ctx context.Context, userID int64) (*models.UserLimits, error)
	ResetWeeklyUsage(ctx context.Context, userID int64, weekStart time.Time) error
	ConsumeQuota(ctx context.Context, userID int64, now time.Time) error
	SetUserLimits(ctx context.Context, userID int64, absoluteLimit, weeklyLimit *int) error
	SetAllUserLimits(ctx context.Context, absoluteLimit, weeklyLimit *int) error
}

// Decision is the outcome of a check-and-consume call
type Decision struct {
	Allowed bool
	Reason  string // set when Allowed is false
}

// Limiter checks and consumes per-user question quotas
type Limiter struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a limiter
func New(store Store, logger *zap.Logger) *Limiter {
	return &Limiter{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// CheckAndConsume decides whether the user may ask one more question and, if
// allowed, records the consumption. Denials never mutate usage counters; an
// elapsed weekly window is reset and persisted even when the call is later
// denied by the weekly comparison.
func (l *Limiter) CheckAndConsume(ctx context.Context, userID int64) (Decision, error) {
	limits, err := l.store.GetOrCreateLimits(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	now := l.now()

	if limits.AbsoluteLimit != nil && limits.AbsoluteUsed >= *limits.AbsoluteLimit {
		l.logger.Info("absolute limit reached",
			zap.Int64("user_id", userID),
			zap.Int("absolute_limit", *limits.AbsoluteLimit))
		return Decision{Reason: ReasonAbsoluteLimitExceeded}, nil
	}

	if limits.WeeklyLimit != nil {
		// An unset window starts with the upcoming increment; an elapsed one
		// is reset before the weekly comparison.
		if limits.WeekStart != nil && now.Sub(*limits.WeekStart) >= WeekDuration {
			if err := l.store.ResetWeeklyUsage(ctx, userID, now); err != nil {
				return Decision{}, err
			}
			limits.WeeklyUsed = 0
			ws := now
			limits.WeekStart = &ws
		}
		if limits.WeeklyUsed >= *limits.WeeklyLimit {
			l.logger.Info("weekly limit reached",
				zap.Int64("user_id", userID),
				zap.Int("weekly_limit", *limits.WeeklyLimit))
			return Decision{Reason: ReasonWeeklyLimitExceeded}, nil
		}
	}

	if err := l.store.ConsumeQuota(ctx, userID, now); err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: true}, nil
}

// SetLimits overwrites a user's limits without touching usage counters.
// Nil clears a limit back to unlimited.
func (l *Limiter) SetLimits(ctx context.Context, userID int64, absoluteLimit, weeklyLimit *int) error {
	return l.store.SetUserLimits(ctx, userID, absoluteLimit, weeklyLimit)
}

// SetAllLimits applies the same limits to every user's quota record
func (l *Limiter) SetAllLimits(ctx context.Context, absoluteLimit, weeklyLimit *int) error {
	return l.store.SetAllUserLimits(ctx, absoluteLimit, weeklyLimit)
}
