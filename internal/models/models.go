package models

import "time"

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// PendingUserID is the sentinel user_id for users added by @username
// before they first write to the bot.
const PendingUserID = -1

// User represents a bot user
type User struct {
	UserID    int64
	Username  string
	Role      string
	Allowed   bool
	Car       string // empty if not set
	CreatedAt time.Time
}

// IsAdmin reports whether the user has the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// UserLimits is the per-user quota record.
// Nil limits mean unlimited; WeekStart is nil until the first counted question.
type UserLimits struct {
	UserID        int64
	AbsoluteLimit *int
	AbsoluteUsed  int
	WeeklyLimit   *int
	WeeklyUsed    int
	WeekStart     *time.Time
}

// RequestStatus is the lifecycle status of a RAG request
type RequestStatus string

const (
	StatusPending RequestStatus = "pending"
	StatusSuccess RequestStatus = "success"
	StatusFailed  RequestStatus = "failed"
)

// RAGRequest is one ledger entry for a submitted question
type RAGRequest struct {
	UserID    int64
	RequestID string
	Text      string
	Status    RequestStatus
	CreatedAt time.Time
}

// Message types recorded in the activity log
const (
	MessageTypeCommand = "command"
	MessageTypeText    = "text"
)

// Actions recorded in the user actions log
const (
	ActionSetCar         = "set_car"
	ActionLimitExhausted = "limit_exhausted"
)

// Acquisition tracks how a user found the bot (/start deep-link payload)
type Acquisition struct {
	UserID         int64
	PayloadRaw     string
	PayloadDecoded string
	Src            string
	Campaign       string
	Ad             string
	LanguageCode   string
}

// UserActivity is one row of the top-users statistics
type UserActivity struct {
	UserID       int64
	Username     string
	MessageCount int
}

// RoleCount is a per-role user count
type RoleCount struct {
	Role  string
	Count int
}

// Statistics is the aggregate report for a period (day/month/year)
type Statistics struct {
	Period          string
	TotalUsers      int
	ActiveUsers     int
	NewUsers        int
	TotalMessages   int
	Commands        int
	TextMessages    int
	RAGRequests     int
	RAGFailed       int
	CarSet          int
	LimitsExhausted int
	TopUsers        []UserActivity
	RoleStats       []RoleCount
}

// UserAnalytics is the per-user report for a period
type UserAnalytics struct {
	UserID          int64
	Username        string
	FirstSeenAt     *time.Time
	TotalMessages   int
	CommandMessages int
	TextMessages    int
	RAGRequests     int
	RAGFailed       int
	IsBlocked       bool
	IsAdmin         bool
	Car             string
	LimitsReached   bool
	Src             string
	Campaign        string
	Ad              string
	CarSet          int
	LimitsExhausted int
}

// UserExport is one row of the CSV roster export (and of /top_users)
type UserExport struct {
	User
	QuestionCount int
	Src           string
	Campaign      string
	Ad            string
}

// Template keys for user-facing texts
const (
	TemplateWelcome           = "welcome_text"
	TemplateSupport           = "support_text"
	TemplateProcessing        = "processing_text"
	TemplateRAGError          = "rag_error_text"
	TemplateLimitExceeded     = "limit_exceeded_text"
	TemplateMediaNotSupported = "media_not_supported_text"
)

// Template is a stored user-facing text
type Template struct {
	Value       string
	Description string
}

// DefaultTemplates are seeded at startup and used as fallbacks when the
// store has no row for a key.
var DefaultTemplates = map[string]Template{
	TemplateWelcome:           {"Hi! I'm your car assistant. Ask me about maintenance, error codes and everyday care.", "Welcome message shown on /start"},
	TemplateSupport:           {"Support is ready to help with your question.", "Text for the contact-support hint"},
	TemplateProcessing:        {"🤔 Processing your question...", "Shown while a question is being answered"},
	TemplateRAGError:          {"⚠️ Couldn't get an answer, please try again later.", "Shown when the answer service is unavailable"},
	TemplateLimitExceeded:     {"Question limit exceeded", "Shown when a usage limit is reached"},
	TemplateMediaNotSupported: {"Please write your question as text. I can't understand images or audio yet.", "Shown for photo/audio/other media messages"},
}
