package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AdminSeed is one entry of ADMIN_USER_IDS ("id" or "id@username")
type AdminSeed struct {
	UserID   int64
	Username string
}

// Config holds the application configuration
type Config struct {
	TelegramToken string

	// Postgres configuration
	DatabaseURL string
	UseMockDB   bool

	// Admin seeding
	AdminSeeds      []AdminSeed
	BootstrapSecret string // empty disables /bootstrap

	// RAG gateway configuration. PollInterval * MaxAttempts bounds the
	// worst-case wait for one question.
	RAGAPIURL       string
	RAGAPIKey       string
	RAGPollInterval time.Duration
	RAGMaxAttempts  int
	RAGTestMode     bool

	LogLevel string
	Port     string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}

	// Telegram Bot Token (required)
	config.TelegramToken = os.Getenv("BOT_TOKEN")
	if config.TelegramToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}

	// Use Mock DB (default: false)
	config.UseMockDB = isTruthy(os.Getenv("USE_MOCK_DB"))

	// Database URL (required if not using mock)
	if !config.UseMockDB {
		config.DatabaseURL = os.Getenv("DATABASE_URL")
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when USE_MOCK_DB is not set")
		}
	}

	// Admin seeds (optional, comma-separated "id" or "id@username" entries)
	if seeds := os.Getenv("ADMIN_USER_IDS"); seeds != "" {
		for _, entry := range strings.Split(seeds, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			seed, err := parseAdminSeed(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid entry in ADMIN_USER_IDS: %w", err)
			}
			config.AdminSeeds = append(config.AdminSeeds, seed)
		}
	}
	config.BootstrapSecret = os.Getenv("ADMIN_BOOTSTRAP_SECRET")

	// RAG gateway
	config.RAGTestMode = isTruthy(os.Getenv("RAG_TEST"))
	config.RAGAPIURL = strings.TrimRight(os.Getenv("RAG_API_URL"), "/")
	config.RAGAPIKey = os.Getenv("RAG_API_KEY")
	if !config.RAGTestMode {
		if config.RAGAPIURL == "" || config.RAGAPIKey == "" {
			return nil, fmt.Errorf("RAG_API_URL and RAG_API_KEY are required unless RAG_TEST is set")
		}
	}

	pollSec := 3
	if v := os.Getenv("RAG_POLL_INTERVAL_SEC"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid RAG_POLL_INTERVAL_SEC: %s", v)
		}
		pollSec = parsed
	}
	config.RAGPollInterval = time.Duration(pollSec) * time.Second

	config.RAGMaxAttempts = 100
	if v := os.Getenv("RAG_MAX_ATTEMPTS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid RAG_MAX_ATTEMPTS: %s", v)
		}
		config.RAGMaxAttempts = parsed
	}

	config.LogLevel = os.Getenv("LOG_LEVEL")
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	config.Port = os.Getenv("PORT")
	if config.Port == "" {
		config.Port = "8080"
	}

	return config, nil
}

// parseAdminSeed parses "363046871" or "363046871@username"
func parseAdminSeed(entry string) (AdminSeed, error) {
	idPart, namePart, _ := strings.Cut(entry, "@")
	id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil {
		return AdminSeed{}, fmt.Errorf("bad admin id %q", entry)
	}
	username := strings.TrimSpace(namePart)
	if username != "" {
		username = "@" + username
	} else {
		username = "admin_" + idPart
	}
	return AdminSeed{UserID: id, Username: username}, nil
}

// isTruthy recognizes true/1/yes/on (case-insensitive)
func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
