package bot

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"carbot/internal/models"
	"carbot/internal/storage"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage", zap.Any("panic", r))
			b.reply(message, "An error occurred while processing your request. Please try again.")
		}
	}()

	ctx := context.Background()
	userID := message.From.ID
	username := message.From.UserName

	// Users added by @username hold a sentinel id until their first message.
	if username != "" {
		if _, err := b.db.GetUser(ctx, userID); errors.Is(err, storage.ErrNotFound) {
			promoted, perr := b.db.PromoteUserByUsername(ctx, username, userID)
			if perr != nil {
				b.logger.Error("Failed to promote pending user", zap.Error(perr))
			} else if promoted {
				b.logger.Info("Pending user activated",
					zap.Int64("user_id", userID),
					zap.String("username", username))
			}
		}
	}

	if message.IsCommand() {
		if err := b.db.LogMessage(ctx, userID, models.MessageTypeCommand, truncateContent(message.Text, 100)); err != nil {
			b.logger.Error("Failed to log command", zap.Error(err))
		}

		switch message.Command() {
		case "start":
			b.handleStart(ctx, message)
		case "help":
			b.handleHelp(ctx, message)
		case "set_car":
			b.handleSetCar(ctx, message)
		case "my_car":
			b.handleMyCar(ctx, message)
		case "to":
			b.handleServiceBooking(ctx, message)
		case "bootstrap":
			b.handleBootstrap(ctx, message)
		case "add_user":
			b.handleAddUser(ctx, message)
		case "del_user":
			b.handleDelUser(ctx, message)
		case "list_users":
			b.handleListUsers(ctx, message)
		case "pending_users":
			b.handlePendingUsers(ctx, message)
		case "top_users":
			b.handleTopUsers(ctx, message)
		case "set_limit":
			b.handleSetLimit(ctx, message)
		case "set_all_limits":
			b.handleSetAllLimits(ctx, message)
		case "stats":
			b.handleStats(ctx, message)
		case "user_stats":
			b.handleUserStats(ctx, message)
		case "export_csv":
			b.handleExportCSV(ctx, message)
		case "set_template":
			b.handleSetTemplate(ctx, message)
		default:
			b.reply(message, "Unknown command. Use /help to see available commands.")
		}
		return
	}

	if message.Text != "" {
		b.handleQuestion(ctx, message)
		return
	}

	// Photos, audio and other media are not supported
	if b.isAllowed(ctx, userID) {
		b.reply(message, b.template(ctx, models.TemplateMediaNotSupported))
	}
}

// isAllowed reports whether the user exists and is allow-listed
func (b *Bot) isAllowed(ctx context.Context, userID int64) bool {
	user, err := b.db.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.logger.Error("Failed to load user", zap.Int64("user_id", userID), zap.Error(err))
		}
		return false
	}
	return user.Allowed
}

// isAdmin reports whether the user has the admin role
func (b *Bot) isAdmin(ctx context.Context, userID int64) bool {
	user, err := b.db.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.logger.Error("Failed to load user", zap.Int64("user_id", userID), zap.Error(err))
		}
		return false
	}
	return user.IsAdmin()
}
