package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"carbot/internal/models"
)

// handleQuestion forwards a free-text message to the answer service, gated by
// the user's quota.
func (b *Bot) handleQuestion(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	username := message.From.UserName

	if !b.isAllowed(ctx, userID) {
		b.logger.Warn("Unauthorized question attempt",
			zap.Int64("user_id", userID),
			zap.String("username", username))
		b.reply(message, "❌ You don't have access to this bot. Please contact an administrator.")
		return
	}

	question := sanitizeText(message.Text)
	if question == "" {
		b.reply(message, "❌ Empty message. Please ask a question about your car.")
		return
	}

	if err := b.db.LogMessage(ctx, userID, models.MessageTypeText, truncateContent(question, 100)); err != nil {
		b.logger.Error("Failed to log message", zap.Error(err))
	}

	// One question at a time per user: the quota check and the ledger write
	// for the previous question must not interleave with the next one.
	lock := b.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	decision, err := b.limiter.CheckAndConsume(ctx, userID)
	if err != nil {
		b.logger.Error("Limiter check failed", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(message, b.template(ctx, models.TemplateRAGError))
		return
	}
	if !decision.Allowed {
		if err := b.db.LogAction(ctx, userID, models.ActionLimitExhausted, decision.Reason); err != nil {
			b.logger.Error("Failed to log action", zap.Error(err))
		}
		b.reply(message, b.template(ctx, models.TemplateLimitExceeded))
		return
	}

	processingMsg := b.reply(message, b.template(ctx, models.TemplateProcessing))

	answer, err := b.answerer.Ask(ctx, b.contextualQuestion(ctx, userID, question), userID, username)

	if processingMsg != nil {
		b.deleteMessage(message.Chat.ID, processingMsg.MessageID)
	}

	if err != nil {
		// The concrete cause (submit failure, remote failure, timeout) is in
		// the logs and the ledger; users get one generic fallback.
		b.logger.Warn("Answer unavailable", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(message, b.template(ctx, models.TemplateRAGError))
		return
	}

	b.reply(message, "🤖 "+answer)
}

// contextualQuestion prefixes the question with the user's car, when known
func (b *Bot) contextualQuestion(ctx context.Context, userID int64, question string) string {
	user, err := b.db.GetUser(ctx, userID)
	if err != nil || user.Car == "" {
		return question
	}
	return fmt.Sprintf("User's car: %s\n\nQuestion: %s", user.Car, question)
}
