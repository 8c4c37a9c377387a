package bot

import (
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"carbot/internal/limiter"
	"carbot/internal/storage"
)

// NewBot creates a new Telegram bot
func NewBot(token string, db storage.Storage, lim *limiter.Limiter, answerer Answerer, bootstrapSecret string, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))

	return &Bot{
		api:             api,
		db:              db,
		limiter:         lim,
		answerer:        answerer,
		logger:          logger,
		bootstrapSecret: bootstrapSecret,
		locks:           make(map[int64]*sync.Mutex),
	}, nil
}
