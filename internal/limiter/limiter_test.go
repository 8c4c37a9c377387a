package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbot/internal/storage/stubs"
)

func intPtr(v int) *int { return &v }

func newTestLimiter(t *testing.T, at time.Time) (*Limiter, *stubs.MockDB) {
	t.Helper()
	db := stubs.NewMockDB()
	l := New(db, zap.NewNop())
	l.now = func() time.Time { return at }
	return l, db
}

func TestCheckAndConsume_UnlimitedByDefault(t *testing.T) {
	ctx := context.Background()
	l, db := newTestLimiter(t, time.Now())

	for i := 0; i < 50; i++ {
		d, err := l.CheckAndConsume(ctx, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d should be allowed without limits", i+1)
	}

	limits, err := db.GetOrCreateLimits(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50, limits.AbsoluteUsed)
	assert.Equal(t, 50, limits.WeeklyUsed)
}

func TestCheckAndConsume_AbsoluteLimit(t *testing.T) {
	ctx := context.Background()
	l, db := newTestLimiter(t, time.Now())

	require.NoError(t, l.SetLimits(ctx, 1, intPtr(2), nil))

	for i := 0; i < 2; i++ {
		d, err := l.CheckAndConsume(ctx, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonAbsoluteLimitExceeded, d.Reason)

	// A denial must not move the counters.
	limits, err := db.GetOrCreateLimits(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, limits.AbsoluteUsed)
	assert.Equal(t, 2, limits.WeeklyUsed)
}

func TestCheckAndConsume_WeeklyLimit(t *testing.T) {
	ctx := context.Background()
	l, db := newTestLimiter(t, time.Now())

	require.NoError(t, l.SetLimits(ctx, 1, nil, intPtr(3)))

	for i := 0; i < 3; i++ {
		d, err := l.CheckAndConsume(ctx, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonWeeklyLimitExceeded, d.Reason)

	limits, err := db.GetOrCreateLimits(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, limits.WeeklyUsed)
	// Absolute usage keeps counting across weeks.
	assert.Equal(t, 3, limits.AbsoluteUsed)
}

func TestCheckAndConsume_FirstUseStartsWindow(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l, db := newTestLimiter(t, start)

	require.NoError(t, l.SetLimits(ctx, 1, nil, intPtr(5)))

	limits, err := db.GetOrCreateLimits(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, limits.WeekStart, "window should be unset before the first question")

	d, err := l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	limits, err = db.GetOrCreateLimits(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, limits.WeekStart)
	assert.True(t, limits.WeekStart.Equal(start))
}

func TestCheckAndConsume_WeeklyWindowResets(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l, db := newTestLimiter(t, start)

	require.NoError(t, l.SetLimits(ctx, 1, nil, intPtr(1)))

	d, err := l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Exactly one week later the window has elapsed (the boundary counts).
	later := start.Add(WeekDuration)
	l.now = func() time.Time { return later }

	d, err = l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a fresh window should grant the quota again")

	limits, err := db.GetOrCreateLimits(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, limits.WeeklyUsed)
	assert.Equal(t, 2, limits.AbsoluteUsed)
	require.NotNil(t, limits.WeekStart)
	assert.True(t, limits.WeekStart.Equal(later))
}

func TestCheckAndConsume_WindowNotElapsedJustBeforeBoundary(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l, _ := newTestLimiter(t, start)

	require.NoError(t, l.SetLimits(ctx, 1, nil, intPtr(1)))

	d, err := l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	l.now = func() time.Time { return start.Add(WeekDuration - time.Second) }

	d, err = l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonWeeklyLimitExceeded, d.Reason)
}

func TestCheckAndConsume_ResetPersistsEvenWhenDenied(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l, db := newTestLimiter(t, start)

	// A zero weekly limit denies every call, but an elapsed window must
	// still be reset and persisted.
	require.NoError(t, l.SetLimits(ctx, 1, nil, intPtr(0)))
	require.NoError(t, db.ConsumeQuota(ctx, 1, start))

	later := start.Add(WeekDuration + time.Hour)
	l.now = func() time.Time { return later }

	d, err := l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonWeeklyLimitExceeded, d.Reason)

	limits, err := db.GetOrCreateLimits(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, limits.WeeklyUsed)
	require.NotNil(t, limits.WeekStart)
	assert.True(t, limits.WeekStart.Equal(later))
}

func TestCheckAndConsume_AbsoluteCheckedFirst(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l, db := newTestLimiter(t, start)

	require.NoError(t, l.SetLimits(ctx, 1, intPtr(1), intPtr(1)))

	d, err := l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Both limits are exhausted and the window has elapsed; the absolute
	// denial wins and leaves the stale window untouched.
	later := start.Add(2 * WeekDuration)
	l.now = func() time.Time { return later }

	d, err = l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.Equal(t, ReasonAbsoluteLimitExceeded, d.Reason)

	limits, err := db.GetOrCreateLimits(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, limits.WeeklyUsed)
	require.NotNil(t, limits.WeekStart)
	assert.True(t, limits.WeekStart.Equal(start))
}

func TestCheckAndConsume_IndependentUsers(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, time.Now())

	require.NoError(t, l.SetLimits(ctx, 1, intPtr(1), nil))
	require.NoError(t, l.SetLimits(ctx, 2, intPtr(1), nil))

	d, err := l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	d, err = l.CheckAndConsume(ctx, 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one user's exhaustion must not affect another")
}

func TestSetLimits_ClearsToUnlimited(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, time.Now())

	require.NoError(t, l.SetLimits(ctx, 1, intPtr(1), nil))

	d, err := l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Clearing the limit lifts the denial without resetting usage.
	require.NoError(t, l.SetLimits(ctx, 1, nil, nil))

	d, err = l.CheckAndConsume(ctx, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestSetAllLimits(t *testing.T) {
	ctx := context.Background()
	l, db := newTestLimiter(t, time.Now())

	for _, id := range []int64{1, 2, 3} {
		_, err := db.GetOrCreateLimits(ctx, id)
		require.NoError(t, err)
	}

	require.NoError(t, l.SetAllLimits(ctx, intPtr(10), intPtr(3)))

	for _, id := range []int64{1, 2, 3} {
		limits, err := db.GetOrCreateLimits(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, limits.AbsoluteLimit)
		require.NotNil(t, limits.WeeklyLimit)
		assert.Equal(t, 10, *limits.AbsoluteLimit)
		assert.Equal(t, 3, *limits.WeeklyLimit)
	}
}
