package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BOT_TOKEN", "token123")
	t.Setenv("USE_MOCK_DB", "true")
	t.Setenv("RAG_TEST", "true")
	// Make sure ambient values don't leak into the test.
	t.Setenv("ADMIN_USER_IDS", "")
	t.Setenv("RAG_POLL_INTERVAL_SEC", "")
	t.Setenv("RAG_MAX_ATTEMPTS", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PORT", "")
	t.Setenv("RAG_API_URL", "")
	t.Setenv("RAG_API_KEY", "")
	t.Setenv("DATABASE_URL", "")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "token123", cfg.TelegramToken)
	assert.True(t, cfg.UseMockDB)
	assert.True(t, cfg.RAGTestMode)
	assert.Equal(t, 3*time.Second, cfg.RAGPollInterval)
	assert.Equal(t, 100, cfg.RAGMaxAttempts)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.AdminSeeds)
}

func TestLoadFromEnv_RequiresBotToken(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BOT_TOKEN", "")

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadFromEnv_RequiresDatabaseUnlessMock(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("USE_MOCK_DB", "")

	_, err := LoadFromEnv()
	assert.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/carbot")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/carbot", cfg.DatabaseURL)
}

func TestLoadFromEnv_RequiresRAGCredentialsUnlessTestMode(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("RAG_TEST", "")

	_, err := LoadFromEnv()
	assert.Error(t, err)

	t.Setenv("RAG_API_URL", "https://rag.example.com/")
	t.Setenv("RAG_API_KEY", "secret")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://rag.example.com", cfg.RAGAPIURL, "trailing slash is trimmed")
	assert.Equal(t, "secret", cfg.RAGAPIKey)
}

func TestLoadFromEnv_PollSettings(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("RAG_POLL_INTERVAL_SEC", "5")
	t.Setenv("RAG_MAX_ATTEMPTS", "20")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.RAGPollInterval)
	assert.Equal(t, 20, cfg.RAGMaxAttempts)

	t.Setenv("RAG_POLL_INTERVAL_SEC", "0")
	_, err = LoadFromEnv()
	assert.Error(t, err)

	t.Setenv("RAG_POLL_INTERVAL_SEC", "5")
	t.Setenv("RAG_MAX_ATTEMPTS", "-1")
	_, err = LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadFromEnv_AdminSeeds(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ADMIN_USER_IDS", "100, 200@boss")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.AdminSeeds, 2)
	assert.Equal(t, int64(100), cfg.AdminSeeds[0].UserID)
	assert.Equal(t, "admin_100", cfg.AdminSeeds[0].Username)
	assert.Equal(t, int64(200), cfg.AdminSeeds[1].UserID)
	assert.Equal(t, "@boss", cfg.AdminSeeds[1].Username)

	t.Setenv("ADMIN_USER_IDS", "not-a-number")
	_, err = LoadFromEnv()
	assert.Error(t, err)
}

func TestParseAdminSeed(t *testing.T) {
	seed, err := parseAdminSeed("363046871")
	require.NoError(t, err)
	assert.Equal(t, int64(363046871), seed.UserID)
	assert.Equal(t, "admin_363046871", seed.Username)

	seed, err = parseAdminSeed("363046871@boss")
	require.NoError(t, err)
	assert.Equal(t, "@boss", seed.Username)

	_, err = parseAdminSeed("@boss")
	assert.Error(t, err)
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "1", "yes", "on", " Yes "} {
		assert.True(t, isTruthy(v), v)
	}
	for _, v := range []string{"", "false", "0", "no", "off", "2"} {
		assert.False(t, isTruthy(v), v)
	}
}
