package bot

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"carbot/internal/models"
)

const userCommandsText = `Available commands:
/set_car <description> - Save your car details
/my_car - Show your saved car
/to - Book a service appointment
/help - Show help

Just write any question about your car and I'll try to help!`

const adminCommandsText = `Admin commands:
/add_user <id or @username> - Add a user
/del_user <id> - Delete a user
/list_users [limit] [offset] - List users
/pending_users - Users waiting for activation
/top_users - Users by question count
/set_limit <id> <absolute|-> <weekly|-> - Set question limits
/set_all_limits <absolute|-> <weekly|-> - Set limits for everyone
/stats <day|month|year> - Usage statistics
/user_stats <id> [period] - Per-user statistics
/export_csv - Export the roster as CSV
/set_template <key> <text> - Change a bot text`

// handleStart greets the user and captures the deep-link payload
func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID

	if payload := strings.TrimSpace(message.CommandArguments()); payload != "" {
		b.saveAcquisition(ctx, message, payload)
	}

	user, err := b.db.GetUser(ctx, userID)
	if err != nil || !user.Allowed {
		b.reply(message, b.template(ctx, models.TemplateWelcome)+
			"\n\n❌ You don't have access to the bot yet. Please contact an administrator.")
		return
	}

	text := b.template(ctx, models.TemplateWelcome) + "\n\n" + userCommandsText
	if user.IsAdmin() {
		text += "\n\n" + adminCommandsText
	}
	b.reply(message, text)
}

// saveAcquisition records where the user came from (insert-once)
func (b *Bot) saveAcquisition(ctx context.Context, message *tgbotapi.Message, payload string) {
	decoded := payload
	if raw, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(payload); err == nil {
		decoded = string(raw)
	}

	src, campaign, ad := parseAcquisitionPayload(decoded)
	err := b.db.SaveAcquisition(ctx, models.Acquisition{
		UserID:         message.From.ID,
		PayloadRaw:     payload,
		PayloadDecoded: decoded,
		Src:            src,
		Campaign:       campaign,
		Ad:             ad,
		LanguageCode:   message.From.LanguageCode,
	})
	if err != nil {
		b.logger.Error("Failed to save acquisition", zap.Error(err))
	}
}

// parseAcquisitionPayload understands "src=x&campaign=y&ad=z" and the short
// "src_campaign_ad" form
func parseAcquisitionPayload(decoded string) (src, campaign, ad string) {
	if values, err := url.ParseQuery(decoded); err == nil && values.Get("src") != "" {
		return values.Get("src"), values.Get("campaign"), values.Get("ad")
	}
	parts := strings.SplitN(decoded, "_", 3)
	if len(parts) > 0 {
		src = parts[0]
	}
	if len(parts) > 1 {
		campaign = parts[1]
	}
	if len(parts) > 2 {
		ad = parts[2]
	}
	return src, campaign, ad
}

// handleHelp shows command help
func (b *Bot) handleHelp(ctx context.Context, message *tgbotapi.Message) {
	text := "🤖 Car Assistant Bot\n\n" + userCommandsText
	if b.isAdmin(ctx, message.From.ID) {
		text += "\n\n/bootstrap <secret> - Register the first administrator\n" + adminCommandsText
	}
	b.reply(message, text)
}

// handleSetCar saves the user's car description
func (b *Bot) handleSetCar(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	if !b.isAllowed(ctx, userID) {
		b.reply(message, "❌ You don't have access to this bot. Please contact an administrator.")
		return
	}

	car := strings.TrimSpace(message.CommandArguments())
	if car == "" {
		b.reply(message, "❌ Usage: /set_car <car description>")
		return
	}
	if !validCarDescription(car) {
		b.reply(message, "❌ Car description is too short. Minimum 3 characters.")
		return
	}
	car = sanitizeText(car)

	if err := b.db.SetCar(ctx, userID, car); err != nil {
		b.logger.Error("Failed to set car", zap.Error(err))
		b.reply(message, "❌ Failed to save your car details.")
		return
	}
	if err := b.db.LogAction(ctx, userID, models.ActionSetCar, truncateContent(car, 100)); err != nil {
		b.logger.Error("Failed to log action", zap.Error(err))
	}
	b.reply(message, "✅ Car details saved:\n🚗 "+car)
}

// handleMyCar shows the saved car description
func (b *Bot) handleMyCar(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	if !b.isAllowed(ctx, userID) {
		b.reply(message, "❌ You don't have access to this bot. Please contact an administrator.")
		return
	}

	user, err := b.db.GetUser(ctx, userID)
	if err != nil {
		b.logger.Error("Failed to load user", zap.Error(err))
		b.reply(message, "❌ Failed to load your car details.")
		return
	}
	if user.Car == "" {
		b.reply(message, "❌ No car saved yet.\nUse /set_car <description> to save one.")
		return
	}
	b.reply(message, "🚗 Your car:\n"+user.Car)
}

// handleServiceBooking shows the service-booking contact
func (b *Bot) handleServiceBooking(ctx context.Context, message *tgbotapi.Message) {
	if !b.isAllowed(ctx, message.From.ID) {
		b.reply(message, "❌ You don't have access to this bot. Please contact an administrator.")
		return
	}

	text := `🔧 Service booking

To book a maintenance appointment, contact us:

📞 Phone: +7 (XXX) XXX-XX-XX
🕒 Hours: Mon-Fri 9:00-18:00, Sat 9:00-15:00

` + b.template(ctx, models.TemplateSupport)
	b.reply(message, text)
}
