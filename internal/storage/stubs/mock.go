package stubs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"carbot/internal/models"
	"carbot/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for testing
// and local development without a database.
type MockDB struct {
	mu           sync.RWMutex
	users        map[int64]models.User
	limits       map[int64]*models.UserLimits
	requests     []models.RAGRequest
	messages     []mockMessage
	actions      []mockAction
	acquisitions map[int64]models.Acquisition
	templates    map[string]models.Template

	// Now is the clock used for created_at stamps and period filters
	Now func() time.Time
}

type mockMessage struct {
	UserID      int64
	MessageType string
	Content     string
	CreatedAt   time.Time
}

type mockAction struct {
	UserID    int64
	Action    string
	Object    string
	CreatedAt time.Time
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		users:        make(map[int64]models.User),
		limits:       make(map[int64]*models.UserLimits),
		acquisitions: make(map[int64]models.Acquisition),
		templates:    make(map[string]models.Template),
		Now:          time.Now,
	}
}

// Initialize seeds the default templates
func (m *MockDB) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, tpl := range models.DefaultTemplates {
		if _, ok := m.templates[key]; !ok {
			m.templates[key] = tpl
		}
	}
	return nil
}

func normalizeUsername(username string) string {
	if username != "" && !strings.HasPrefix(username, "@") && !strings.HasPrefix(username, "user_") {
		return "@" + username
	}
	return username
}

// UpsertAdmin creates or promotes an admin user
func (m *MockDB) UpsertAdmin(ctx context.Context, userID int64, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		u = models.User{UserID: userID, CreatedAt: m.Now()}
	}
	u.Username = username
	u.Role = models.RoleAdmin
	u.Allowed = true
	m.users[userID] = u
	return nil
}

// AddUser creates an allowed user
func (m *MockDB) AddUser(ctx context.Context, userID int64, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		u = models.User{UserID: userID, Role: models.RoleUser, Allowed: true, CreatedAt: m.Now()}
	}
	u.Username = normalizeUsername(username)
	m.users[userID] = u
	return nil
}

// AddUserByUsername creates a pending user under the sentinel id
func (m *MockDB) AddUserByUsername(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[models.PendingUserID]; ok {
		return nil
	}
	m.users[models.PendingUserID] = models.User{
		UserID:    models.PendingUserID,
		Username:  normalizeUsername(username),
		Role:      models.RoleUser,
		Allowed:   true,
		CreatedAt: m.Now(),
	}
	return nil
}

// PromoteUserByUsername assigns a real id to a pending user
func (m *MockDB) PromoteUserByUsername(ctx context.Context, username string, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[models.PendingUserID]
	if !ok || u.Username != normalizeUsername(username) {
		return false, nil
	}
	delete(m.users, models.PendingUserID)
	u.UserID = userID
	m.users[userID] = u
	return true, nil
}

// GetPendingUsers returns users still holding the sentinel id
func (m *MockDB) GetPendingUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var users []models.User
	if u, ok := m.users[models.PendingUserID]; ok {
		users = append(users, u)
	}
	return users, nil
}

// GetUser returns a user by id
func (m *MockDB) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &u, nil
}

// DeleteUser removes a user
func (m *MockDB) DeleteUser(ctx context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return false, nil
	}
	delete(m.users, userID)
	return true, nil
}

// ListUsers returns users, most recently created first
func (m *MockDB) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := m.sortedUsers()
	if offset >= len(users) {
		return nil, nil
	}
	users = users[offset:]
	if limit > 0 && limit < len(users) {
		users = users[:limit]
	}
	return users, nil
}

// ListTopUsers returns users ordered by question count
func (m *MockDB) ListTopUsers(ctx context.Context, limit int) ([]models.UserExport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exports := m.exportRows()
	sort.Slice(exports, func(i, j int) bool {
		if exports[i].QuestionCount != exports[j].QuestionCount {
			return exports[i].QuestionCount > exports[j].QuestionCount
		}
		return exports[i].UserID < exports[j].UserID
	})
	if limit > 0 && limit < len(exports) {
		exports = exports[:limit]
	}
	return exports, nil
}

// ListUsersForExport returns the roster with question counts and acquisition data
func (m *MockDB) ListUsersForExport(ctx context.Context) ([]models.UserExport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exports := m.exportRows()
	sort.Slice(exports, func(i, j int) bool {
		return exports[i].CreatedAt.After(exports[j].CreatedAt)
	})
	return exports, nil
}

func (m *MockDB) exportRows() []models.UserExport {
	questionCounts := make(map[int64]int)
	for _, r := range m.requests {
		questionCounts[r.UserID]++
	}
	var exports []models.UserExport
	for _, u := range m.users {
		e := models.UserExport{User: u, QuestionCount: questionCounts[u.UserID]}
		if a, ok := m.acquisitions[u.UserID]; ok {
			e.Src, e.Campaign, e.Ad = a.Src, a.Campaign, a.Ad
		}
		exports = append(exports, e)
	}
	return exports
}

func (m *MockDB) sortedUsers() []models.User {
	var users []models.User
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users
}

// SetCar stores the car description
func (m *MockDB) SetCar(ctx context.Context, userID int64, car string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.Car = car
	m.users[userID] = u
	return nil
}

// LogMessage records a message in the activity log
func (m *MockDB) LogMessage(ctx context.Context, userID int64, messageType, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, mockMessage{userID, messageType, content, m.Now()})
	return nil
}

// LogAction records a user action
func (m *MockDB) LogAction(ctx context.Context, userID int64, action, object string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, mockAction{userID, action, object, m.Now()})
	return nil
}

// LogRequest inserts a ledger entry
func (m *MockDB) LogRequest(ctx context.Context, userID int64, requestID, text string, status models.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, models.RAGRequest{
		UserID:    userID,
		RequestID: requestID,
		Text:      text,
		Status:    status,
		CreatedAt: m.Now(),
	})
	return nil
}

// UpdateRequestStatus updates every ledger entry with the given request id
func (m *MockDB) UpdateRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.requests {
		if m.requests[i].RequestID == requestID {
			m.requests[i].Status = status
		}
	}
	return nil
}

// Requests returns a copy of the ledger for test assertions
func (m *MockDB) Requests() []models.RAGRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RAGRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetOrCreateLimits loads or lazily creates a quota record
func (m *MockDB) GetOrCreateLimits(ctx context.Context, userID int64) (*models.UserLimits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limits[userID]
	if !ok {
		l = &models.UserLimits{UserID: userID}
		m.limits[userID] = l
	}
	cp := *l
	return &cp, nil
}

// ResetWeeklyUsage zeroes the weekly counter and advances the window
func (m *MockDB) ResetWeeklyUsage(ctx context.Context, userID int64, weekStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limits[userID]; ok {
		l.WeeklyUsed = 0
		l.WeekStart = &weekStart
	}
	return nil
}

// ConsumeQuota increments both counters and initializes the window start
func (m *MockDB) ConsumeQuota(ctx context.Context, userID int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limits[userID]
	if !ok {
		l = &models.UserLimits{UserID: userID}
		m.limits[userID] = l
	}
	l.AbsoluteUsed++
	l.WeeklyUsed++
	if l.WeekStart == nil {
		ws := now
		l.WeekStart = &ws
	}
	return nil
}

// SetUserLimits overwrites stored limits, leaving counters untouched
func (m *MockDB) SetUserLimits(ctx context.Context, userID int64, absoluteLimit, weeklyLimit *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limits[userID]
	if !ok {
		l = &models.UserLimits{UserID: userID}
		m.limits[userID] = l
	}
	l.AbsoluteLimit = absoluteLimit
	l.WeeklyLimit = weeklyLimit
	return nil
}

// SetAllUserLimits applies the same limits to every quota record
func (m *MockDB) SetAllUserLimits(ctx context.Context, absoluteLimit, weeklyLimit *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.limits {
		l.AbsoluteLimit = absoluteLimit
		l.WeeklyLimit = weeklyLimit
	}
	return nil
}

func periodCutoff(now time.Time, period string) time.Time {
	switch period {
	case "month":
		return now.AddDate(0, -1, 0)
	case "year":
		return now.AddDate(-1, 0, 0)
	default:
		return now.AddDate(0, 0, -1)
	}
}

// GetStatistics computes the aggregate report from in-memory data
func (m *MockDB) GetStatistics(ctx context.Context, period string) (*models.Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := periodCutoff(m.Now(), period)
	stats := &models.Statistics{Period: period, TotalUsers: len(m.users)}

	activeUsers := make(map[int64]bool)
	perUserMessages := make(map[int64]int)
	for _, msg := range m.messages {
		if msg.CreatedAt.Before(cutoff) {
			continue
		}
		activeUsers[msg.UserID] = true
		perUserMessages[msg.UserID]++
		stats.TotalMessages++
		switch msg.MessageType {
		case models.MessageTypeCommand:
			stats.Commands++
		case models.MessageTypeText:
			stats.TextMessages++
		}
	}
	stats.ActiveUsers = len(activeUsers)

	roleCounts := make(map[string]int)
	for _, u := range m.users {
		if !u.CreatedAt.Before(cutoff) {
			stats.NewUsers++
			roleCounts[u.Role]++
		}
	}
	for role, count := range roleCounts {
		stats.RoleStats = append(stats.RoleStats, models.RoleCount{Role: role, Count: count})
	}
	sort.Slice(stats.RoleStats, func(i, j int) bool { return stats.RoleStats[i].Role < stats.RoleStats[j].Role })

	for _, r := range m.requests {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		stats.RAGRequests++
		if r.Status == models.StatusFailed {
			stats.RAGFailed++
		}
	}
	for _, a := range m.actions {
		if a.CreatedAt.Before(cutoff) {
			continue
		}
		switch a.Action {
		case models.ActionSetCar:
			stats.CarSet++
		case models.ActionLimitExhausted:
			stats.LimitsExhausted++
		}
	}

	for userID, count := range perUserMessages {
		u := m.users[userID]
		stats.TopUsers = append(stats.TopUsers, models.UserActivity{UserID: userID, Username: u.Username, MessageCount: count})
	}
	sort.Slice(stats.TopUsers, func(i, j int) bool {
		if stats.TopUsers[i].MessageCount != stats.TopUsers[j].MessageCount {
			return stats.TopUsers[i].MessageCount > stats.TopUsers[j].MessageCount
		}
		return stats.TopUsers[i].UserID < stats.TopUsers[j].UserID
	})
	if len(stats.TopUsers) > 5 {
		stats.TopUsers = stats.TopUsers[:5]
	}

	return stats, nil
}

// GetUserAnalytics computes the per-user report from in-memory data
func (m *MockDB) GetUserAnalytics(ctx context.Context, userID int64, period string) (*models.UserAnalytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := periodCutoff(m.Now(), period)
	a := &models.UserAnalytics{UserID: userID, IsBlocked: true}

	if u, ok := m.users[userID]; ok {
		a.Username = u.Username
		firstSeen := u.CreatedAt
		a.FirstSeenAt = &firstSeen
		a.IsBlocked = !u.Allowed
		a.IsAdmin = u.Role == models.RoleAdmin
		a.Car = u.Car
	}

	for _, msg := range m.messages {
		if msg.UserID != userID || msg.CreatedAt.Before(cutoff) {
			continue
		}
		a.TotalMessages++
		switch msg.MessageType {
		case models.MessageTypeCommand:
			a.CommandMessages++
		case models.MessageTypeText:
			a.TextMessages++
		}
	}
	for _, r := range m.requests {
		if r.UserID != userID || r.CreatedAt.Before(cutoff) {
			continue
		}
		a.RAGRequests++
		if r.Status == models.StatusFailed {
			a.RAGFailed++
		}
	}
	for _, act := range m.actions {
		if act.UserID != userID || act.CreatedAt.Before(cutoff) {
			continue
		}
		switch act.Action {
		case models.ActionSetCar:
			a.CarSet++
		case models.ActionLimitExhausted:
			a.LimitsExhausted++
		}
	}

	if acq, ok := m.acquisitions[userID]; ok {
		a.Src, a.Campaign, a.Ad = acq.Src, acq.Campaign, acq.Ad
	}
	if l, ok := m.limits[userID]; ok {
		if l.AbsoluteLimit != nil && l.AbsoluteUsed >= *l.AbsoluteLimit {
			a.LimitsReached = true
		} else if l.WeeklyLimit != nil && l.WeeklyUsed >= *l.WeeklyLimit {
			a.LimitsReached = true
		}
	}
	return a, nil
}

// GetTemplate returns a stored template value
func (m *MockDB) GetTemplate(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tpl, ok := m.templates[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return tpl.Value, nil
}

// SetTemplate creates or replaces a template
func (m *MockDB) SetTemplate(ctx context.Context, key, value, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[key] = models.Template{Value: value, Description: description}
	return nil
}

// SaveAcquisition stores acquisition data once per user
func (m *MockDB) SaveAcquisition(ctx context.Context, a models.Acquisition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.acquisitions[a.UserID]; !ok {
		m.acquisitions[a.UserID] = a
	}
	return nil
}

// GetAcquisition returns acquisition data for a user
func (m *MockDB) GetAcquisition(ctx context.Context, userID int64) (*models.Acquisition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.acquisitions[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &a, nil
}

// Close does nothing for the mock DB
func (m *MockDB) Close() error {
	return nil
}
