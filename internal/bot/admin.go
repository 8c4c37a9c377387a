package bot

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"carbot/internal/models"
)

// requireAdmin replies with a refusal when the sender is not an admin
func (b *Bot) requireAdmin(ctx context.Context, message *tgbotapi.Message) bool {
	if b.isAdmin(ctx, message.From.ID) {
		return true
	}
	b.reply(message, "❌ You don't have permission to run this command.")
	return false
}

// handleBootstrap registers the first administrator by shared secret
func (b *Bot) handleBootstrap(ctx context.Context, message *tgbotapi.Message) {
	secret := strings.TrimSpace(message.CommandArguments())
	if secret == "" {
		b.reply(message, "❌ Usage: /bootstrap <secret>")
		return
	}
	if b.bootstrapSecret == "" || secret != b.bootstrapSecret {
		b.reply(message, "❌ Invalid bootstrap secret.")
		return
	}

	username := message.From.UserName
	if username == "" {
		username = fmt.Sprintf("admin_%d", message.From.ID)
	}
	if err := b.db.UpsertAdmin(ctx, message.From.ID, username); err != nil {
		b.logger.Error("Failed to bootstrap admin", zap.Error(err))
		b.reply(message, "❌ Failed to register administrator.")
		return
	}
	b.reply(message, "✅ You are now registered as an administrator!")
}

// handleAddUser allow-lists a user by id or @username
func (b *Bot) handleAddUser(ctx context.Context, message *tgbotapi.Message) {
	if !b.requireAdmin(ctx, message) {
		return
	}

	arg := strings.TrimSpace(message.CommandArguments())
	if arg == "" {
		b.reply(message, "❌ Usage: /add_user <id or @username>")
		return
	}

	if strings.HasPrefix(arg, "@") {
		if err := b.db.AddUserByUsername(ctx, arg); err != nil {
			b.logger.Error("Failed to add user by username", zap.Error(err))
			b.reply(message, "❌ Failed to add user "+arg+".")
			return
		}
		b.reply(message, fmt.Sprintf("✅ User %s added. Access activates when they first write to the bot.", arg))
		return
	}

	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.reply(message, "❌ Invalid user id. Use a numeric id or @username.")
		return
	}
	if err := b.db.AddUser(ctx, userID, fmt.Sprintf("user_%d", userID)); err != nil {
		b.logger.Error("Failed to add user", zap.Error(err))
		b.reply(message, fmt.Sprintf("❌ Failed to add user %d.", userID))
		return
	}
	b.reply(message, fmt.Sprintf("✅ User %d added.", userID))
}

// handleDelUser deletes a user
func (b *Bot) handleDelUser(ctx context.Context, message *tgbotapi.Message) {
	if !b.requireAdmin(ctx, message) {
		return
	}

	arg := strings.TrimSpace(message.CommandArguments())
	userID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.reply(message, "❌ Usage: /del_user <id>")
		return
	}
	if userID == message.From.ID {
		b.reply(message, "❌ You can't delete yourself.")
		return
	}

	deleted, err := b.db.DeleteUser(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to delete user", zap.Error(err))
		b.reply(message, fmt.Sprintf("❌ Failed to delete user %d.", userID))
		return
	}
	if !deleted {
		b.reply(message, fmt.Sprintf("❌ User %d not found.", userID))
		return
	}
	b.reply(message, fmt.Sprintf("✅ User %d deleted.", userID))
}

// handleListUsers lists users, most recently added first
func (b *Bot) handleListUsers(ctx context.Context, message *tgbotapi.Message) {
	if !b.requireAdmin(ctx, message) {
		return
	}

	limit, offset := 50, 0
	args := strings.Fields(message.CommandArguments())
	if len(args) >= 1 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed < 1 || parsed > 100 {
			b.reply(message, "❌ Invalid limit. Use a number from 1 to 100.")
			return
		}
		limit = parsed
	}
	if len(args) >= 2 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil || parsed < 0 {
			b.reply(message, "❌ Invalid offset. Use a non-negative number.")
			return
		}
		offset = parsed
	}

	users, err := b.db.ListUsers(ctx, limit, offset)
	if err != nil {
		b.logger.Error("Failed to list users", zap.Error(err))
		b.reply(message, "❌ Failed to list users.")
		return
	}
	if len(users) == 0 {
		b.reply(message, "📋 No users found.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 Users (%d shown):\n\n", len(users)))
	for i, u := range users {
		sb.WriteString(formatUserLine(i+1, u))
	}
	for _, chunk := range chunkText(strings.TrimSpace(sb.String()), maxMessageLen) {
		b.reply(message, chunk)
	}
}

// handlePendingUsers lists users added by @username and not yet activated
func (b *Bot) handlePendingUsers(ctx context.Context, message *tgbotapi.Message) {
	if !b.requireAdmin(ctx, message) {
		return
	}

	users, err := b.db.GetPendingUsers(ctx)
	if err != nil {
		b.logger.Error("Failed to get pending users", zap.Error(err))
		b.reply(message, "❌ Failed to list pending users.")
		return
	}
	if len(users) == 0 {
		b.reply(message, "📋 No pending users.")
		return
	}

	var sb strings.Builder
	sb.WriteString("⏳ Pending users:\n\n")
	for i, u := range users {
		sb.WriteString(fmt.Sprintf("%d. %s (added %s)\n", i+1, u.Username, u.CreatedAt.Format("2006-01-02")))
	}
	b.reply(message, strings.TrimSpace(sb.String()))
}

// handleTopUsers lists users by question count
func (b *Bot) handleTopUsers(ctx context.Context, message *tgbotapi.Message) {
	if !b.requireAdmin(ctx, message) {
		return
	}

	users, err := b.db.ListTopUsers(ctx, 10)
	if err != nil {
		b.logger.Error("Failed to list top users", zap.Error(err))
		b.reply(message, "❌ Failed to list top users.")
		return
	}
	if len(users) == 0 {
		b.reply(message, "📋 No users found.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🏆 Top users by questions:\n\n")
	for i, u := range users {
		sb.WriteString(fmt.Sprintf("%d. %s (id %d) — %d questions\n", i+1, u.Username, u.UserID, u.QuestionCount))
	}
	b.reply(message, strings.TrimSpace(sb.String()))
}

// handleSetLimit sets one user's question limits ("-" means unlimited)
func (b *Bot) handleSetLimit(ctx context.Context, message *tgbotapi.Message) {
	if !b.requireAdmin(ctx, message) {
		return
	}

	args := strings.Fields(message.CommandArguments())
	if len(args) != 3 {
		b.reply(message, "❌ Usage: /set_limit <id> <absolute|-> <weekly|->")
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.reply(message, "❌ Invalid user id.")
		return
	}
	absolute, err := parseLimitArg(args[1])
	if err != nil {
		b.reply(message, "❌ Invalid absolute limit. Use a non-negative number or '-'.")
		return
	}
	weekly, err := parseLimitArg(args[2])
	if err != nil {
		b.reply(message, "❌ Invalid weekly limit. Use a non-negative number or '-'.")
		return
	}

	if err := b.limiter.SetLimits(ctx, userID, absolute, weekly); err != nil {
		b.logger.Error("Failed to set limits", zap.Error(err))
		b.reply(message, "❌ Failed to set limits.")
		return
	}
	b.reply(message, fmt.Sprintf("✅ Limits for user %d set: absolute %s, weekly %s.",
		userID, formatLimit(absolute), formatLimit(weekly)))
}

// handleSetAllLimits sets the same limits for every user
func (b *Bot) handleSetAllLimits(ctx context.Context, message *tgbotapi.Message) {
	if !b.requireAdmin(ctx, message) {
		return
	}

	args := strings.Fields(message.CommandArguments())
	if len(args) != 2 {
		b.reply(message, "❌ Usage: /set_all_limits <absolute|-> <weekly|->")
		return
	}
	absolute, err := parseLimitArg(args[0])
	if err != nil {
		b.reply(message, "❌ Invalid absolute limit. Use a non-negative number or '-'.")
		return
	}
	weekly, err := parseLimitArg(args[1])
	if err != nil {
		b.reply(message, "❌ Invalid weekly limit. Use a non-negative number or '-'.")
		return
	}

	if err := b.limiter.SetAllLimits(ctx, absolute, weekly); err != nil {
		b.logger.Error("Failed to set limits for all users", zap.Error(err))
		b.reply(message, "❌ Failed to set limits.")
		return
	}
	b.reply(message, fmt.Sprintf("✅ Limits for all users set: absolute %s, weekly %s.",
		formatLimit(absolute), formatLimit(weekly)))
}

// handleStats shows aggregate usage statistics
func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	if !b.requireAdmin(ctx, message) {
		return
	}

	period := strings.TrimSpace(message.CommandArguments())
	if period == "" {
		period = "day"
	}

	stats, err := b.db.GetStatistics(ctx, period)
	if err != nil {
		b.logger.Error("Failed to get statistics", zap.Error(err))
		b.reply(message, "❌ Failed to get statistics.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 Statistics (%s)\n\n", stats.Period))
	sb.WriteString(fmt.Sprintf("Users total: %d\n", stats.TotalUsers))
	sb.WriteString(fmt.Sprintf("Active users: %d\n", stats.ActiveUsers))
	sb.WriteString(fmt.Sprintf("New users: %d\n", stats.NewUsers))
	sb.WriteString(fmt.Sprintf("Messages: %d (commands %d, text %d)\n", stats.TotalMessages, stats.Commands, stats.TextMessages))
	sb.WriteString(fmt.Sprintf("Questions: %d (failed %d)\n", stats.RAGRequests, stats.RAGFailed))
	sb.WriteString(fmt.Sprintf("Cars set: %d\n", stats.CarSet))
	sb.WriteString(fmt.Sprintf("Limits hit: %d\n", stats.LimitsExhausted))
	if len(stats.TopUsers) > 0 {
		sb.WriteString("\nMost active:\n")
		for i, u := range stats.TopUsers {
			sb.WriteString(fmt.Sprintf("%d. %s — %d messages\n", i+1, u.Username, u.MessageCount))
		}
	}
	if len(stats.RoleStats) > 0 {
		sb.WriteString("\nNew users by role:\n")
		for _, rc := range stats.RoleStats {
			sb.WriteString(fmt.Sprintf("%s: %d\n", rc.Role, rc.Count))
		}
	}
	b.reply(message, strings.TrimSpace(sb.String()))
}

// handleUserStats shows per-user statistics
func (b *Bot) handleUserStats(ctx context.Context, message *tgbotapi.Message) {
	if !b.requireAdmin(ctx, message) {
		return
	}

	args := strings.Fields(message.CommandArguments())
	if len(args) < 1 {
		b.reply(message, "❌ Usage: /user_stats <id> [day|month|year]")
		return
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.reply(message, "❌ Invalid user id.")
		return
	}
	period := "day"
	if len(args) >= 2 {
		period = args[1]
	}

	a, err := b.db.GetUserAnalytics(ctx, userID, period)
	if err != nil {
		b.logger.Error("Failed to get user analytics", zap.Error(err))
		b.reply(message, "❌ Failed to get user statistics.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("👤 User %d (%s), period: %s\n\n", a.UserID, a.Username, period))
	if a.FirstSeenAt != nil {
		sb.WriteString(fmt.Sprintf("First seen: %s\n", a.FirstSeenAt.Format(time.DateOnly)))
	}
	sb.WriteString(fmt.Sprintf("Blocked: %v | Admin: %v\n", a.IsBlocked, a.IsAdmin))
	if a.Car != "" {
		sb.WriteString(fmt.Sprintf("Car: %s\n", a.Car))
	}
	sb.WriteString(fmt.Sprintf("Messages: %d (commands %d, text %d)\n", a.TotalMessages, a.CommandMessages, a.TextMessages))
	sb.WriteString(fmt.Sprintf("Questions: %d (failed %d)\n", a.RAGRequests, a.RAGFailed))
	sb.WriteString(fmt.Sprintf("Limits reached: %v\n", a.LimitsReached))
	if a.Src != "" || a.Campaign != "" || a.Ad != "" {
		sb.WriteString(fmt.Sprintf("Acquisition: src=%s campaign=%s ad=%s\n", a.Src, a.Campaign, a.Ad))
	}
	b.reply(message, strings.TrimSpace(sb.String()))
}

// handleExportCSV sends the full roster as a CSV document
func (b *Bot) handleExportCSV(ctx context.Context, message *tgbotapi.Message) {
	if !b.requireAdmin(ctx, message) {
		return
	}

	users, err := b.db.ListUsersForExport(ctx)
	if err != nil {
		b.logger.Error("Failed to export users", zap.Error(err))
		b.reply(message, "❌ Failed to export users.")
		return
	}

	data, err := rosterCSV(users)
	if err != nil {
		b.logger.Error("Failed to build CSV", zap.Error(err))
		b.reply(message, "❌ Failed to export users.")
		return
	}

	b.sendDocument(message.Chat.ID, "users.csv", data)
}

// rosterCSV renders the export rows as CSV with acquisition columns
func rosterCSV(users []models.UserExport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"user_id", "username", "role", "allowed", "car", "created_at", "question_count", "src", "campaign", "ad"})
	for _, u := range users {
		_ = w.Write([]string{
			strconv.FormatInt(u.UserID, 10),
			u.Username,
			u.Role,
			strconv.FormatBool(u.Allowed),
			u.Car,
			u.CreatedAt.Format(time.RFC3339),
			strconv.Itoa(u.QuestionCount),
			u.Src,
			u.Campaign,
			u.Ad,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handleSetTemplate changes a user-facing text
func (b *Bot) handleSetTemplate(ctx context.Context, message *tgbotapi.Message) {
	if !b.requireAdmin(ctx, message) {
		return
	}

	key, value, ok := strings.Cut(strings.TrimSpace(message.CommandArguments()), " ")
	if !ok || strings.TrimSpace(value) == "" {
		b.reply(message, "❌ Usage: /set_template <key> <text>")
		return
	}
	if _, known := models.DefaultTemplates[key]; !known {
		keys := make([]string, 0, len(models.DefaultTemplates))
		for k := range models.DefaultTemplates {
			keys = append(keys, k)
		}
		b.reply(message, "❌ Unknown template key. Known keys: "+strings.Join(keys, ", "))
		return
	}

	if err := b.db.SetTemplate(ctx, key, strings.TrimSpace(value), models.DefaultTemplates[key].Description); err != nil {
		b.logger.Error("Failed to set template", zap.Error(err))
		b.reply(message, "❌ Failed to save template.")
		return
	}
	b.reply(message, "✅ Template "+key+" updated.")
}
