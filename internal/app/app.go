package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"carbot/internal/bot"
	"carbot/internal/config"
	"carbot/internal/limiter"
	"carbot/internal/logger"
	"carbot/internal/rag"
	"carbot/internal/storage"
	"carbot/internal/storage/pg"
	"carbot/internal/storage/stubs"
)

// App represents the application
type App struct {
	config *config.Config
	logger *zap.Logger
	db     storage.Storage
	bot    *bot.Bot
	server *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	app := &App{config: cfg, logger: log}

	log.Info("Starting Car Assistant Bot...")

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initBot(); err != nil {
		return nil, err
	}
	app.initHTTPServer()

	return app, nil
}

// initDatabase initializes the storage backend
func (a *App) initDatabase() error {
	ctx := context.Background()

	var db storage.Storage
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	} else {
		a.logger.Info("Connecting to Postgres")
		postgresDB, err := pg.NewPostgresDB(ctx, a.config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		db = postgresDB
	}

	// Seed default templates
	if err := db.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Seed administrators from the environment
	for _, seed := range a.config.AdminSeeds {
		if err := db.UpsertAdmin(ctx, seed.UserID, seed.Username); err != nil {
			return fmt.Errorf("failed to seed admin %d: %w", seed.UserID, err)
		}
		a.logger.Info("Admin initialized",
			zap.Int64("user_id", seed.UserID),
			zap.String("username", seed.Username))
	}

	a.logger.Info("Database initialized successfully")
	a.db = db
	return nil
}

// initBot initializes the Telegram bot with its collaborators
func (a *App) initBot() error {
	lim := limiter.New(a.db, a.logger.Named("limiter"))

	ragClient := rag.NewClient(rag.Config{
		APIURL:       a.config.RAGAPIURL,
		APIKey:       a.config.RAGAPIKey,
		PollInterval: a.config.RAGPollInterval,
		MaxAttempts:  a.config.RAGMaxAttempts,
		TestMode:     a.config.RAGTestMode,
	}, a.db, a.logger.Named("rag"))

	telegramBot, err := bot.NewBot(a.config.TelegramToken, a.db, lim, ragClient, a.config.BootstrapSecret, a.logger.Named("bot"))
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	a.bot = telegramBot
	return nil
}

// initHTTPServer initializes the HTTP server for health checks
func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "Car Assistant Bot is running")
	})

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := a.bot.Start(); err != nil {
			a.logger.Fatal("Failed to start bot", zap.Error(err))
		}
	}()

	<-sigChan

	a.logger.Info("Shutting down...")
	return a.Shutdown()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	a.bot.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
	return nil
}
