package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"carbot/internal/models"
	"carbot/internal/storage"
)

// Telegram caps messages at 4096 chars; keep headroom for headers
const maxMessageLen = 4000

// sendMessage sends a prepared message; returns nil when the API is not set
// (tests) or sending fails.
func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) *tgbotapi.Message {
	if b.api == nil {
		return nil // For testing
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		b.logger.Error("Failed to send message", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		return nil
	}
	return &sent
}

// reply sends text as a reply to the given message
func (b *Bot) reply(message *tgbotapi.Message, text string) *tgbotapi.Message {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	return b.sendMessage(msg)
}

// deleteMessage removes a previously sent message
func (b *Bot) deleteMessage(chatID int64, messageID int) {
	if b.api == nil {
		return // For testing
	}
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.logger.Warn("Failed to delete message", zap.Error(err))
	}
}

// sendDocument uploads a file to the chat
func (b *Bot) sendDocument(chatID int64, name string, data []byte) {
	if b.api == nil {
		return // For testing
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	if _, err := b.api.Send(doc); err != nil {
		b.logger.Error("Failed to send document", zap.Error(err))
	}
}

// template returns the stored text for a key, falling back to the default
func (b *Bot) template(ctx context.Context, key string) string {
	value, err := b.db.GetTemplate(ctx, key)
	if err == nil && value != "" {
		return value
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.logger.Error("Failed to load template", zap.String("key", key), zap.Error(err))
	}
	return models.DefaultTemplates[key].Value
}

// sanitizeText strips characters that could break message formatting
func sanitizeText(text string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'':
			return -1
		}
		return r
	}, text))
}

// validCarDescription requires at least 3 meaningful characters
func validCarDescription(text string) bool {
	count := 0
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == ' ', r == '-', r == '.', r == ',', r > 127:
			count++
		}
	}
	return count >= 3
}

// truncateContent bounds logged text to n runes
func truncateContent(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

// parseLimitArg parses a limit argument; "-" means unlimited (nil)
func parseLimitArg(arg string) (*int, error) {
	if arg == "-" {
		return nil, nil
	}
	v, err := strconv.Atoi(arg)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("invalid limit %q", arg)
	}
	return &v, nil
}

// formatLimit renders a limit for humans
func formatLimit(limit *int) string {
	if limit == nil {
		return "unlimited"
	}
	return strconv.Itoa(*limit)
}

// formatUserLine renders one roster entry
func formatUserLine(index int, u models.User) string {
	allowed := "❌"
	if u.Allowed {
		allowed = "✅"
	}
	line := fmt.Sprintf("%d. ID: %d | %s | %s | %s\n", index, u.UserID, u.Username, u.Role, allowed)
	if u.Car != "" {
		line += "   🚗 " + u.Car + "\n"
	}
	return line
}

// chunkText splits text into pieces below the Telegram message size cap,
// preferring line boundaries. The cap is in characters, so sizes are counted
// in runes; a single line longer than the limit is hard-split.
func chunkText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var current strings.Builder
	count := 0
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		count = 0
	}
	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		for len(runes) > limit {
			flush()
			chunks = append(chunks, string(runes[:limit]))
			runes = runes[limit:]
		}
		if count > 0 && count+len(runes)+1 > limit {
			flush()
		}
		current.WriteString(string(runes))
		current.WriteByte('\n')
		count += len(runes) + 1
	}
	flush()
	return chunks
}
