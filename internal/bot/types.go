package bot

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"carbot/internal/limiter"
	"carbot/internal/storage"
)

// Answerer produces an answer for a user's question. Implemented by the RAG
// gateway client; faked in tests.
type Answerer interface {
	Ask(ctx context.Context, text string, userID int64, username string) (string, error)
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	api             *tgbotapi.BotAPI
	db              storage.Storage
	limiter         *limiter.Limiter
	answerer        Answerer
	logger          *zap.Logger
	bootstrapSecret string

	// locks serializes the limiter-check/ledger-write window per user;
	// updates are handled on independent goroutines.
	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex
}

func (b *Bot) userLock(userID int64) *sync.Mutex {
	b.locksMu.Lock()
	defer b.locksMu.Unlock()
	l, ok := b.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[userID] = l
	}
	return l
}
