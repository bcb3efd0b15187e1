package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StorageDriverLocal, cfg.Storage.Driver)
	assert.Equal(t, TransportMemory, cfg.Scoring.Transport)
	assert.Equal(t, 3, cfg.Scoring.MaxFormatAttempts)
	assert.Equal(t, 3, cfg.Scoring.MaxUpstreamAttempts)
	assert.Equal(t, 30*time.Minute, cfg.JWT.Expiration)
	assert.Equal(t, int64(20*1024*1024), cfg.Uploads.MaxFileSizeBytes)
	assert.Contains(t, cfg.Uploads.AllowedMIMEs, "application/pdf")
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 10*time.Minute, cfg.CORS.MaxAge)
	assert.Equal(t, 2, cfg.NATS.HandlerRetries)
	assert.Equal(t, 2*time.Second, cfg.NATS.HandlerRetryDelay)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SCORING_TRANSPORT", "NATS")
	t.Setenv("SCORING_MAX_FORMAT_ATTEMPTS", "5")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("SCORING_INITIAL_BACKOFF", "not-a-duration")
	t.Setenv("FRONTEND_BASE_URL", "https://esg.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportNATS, cfg.Scoring.Transport)
	assert.Equal(t, 5, cfg.Scoring.MaxFormatAttempts)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, time.Second, cfg.Scoring.InitialBackoff)
	assert.Equal(t, "https://esg.example.com", cfg.Notifications.FrontendBaseURL)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a , ,b "))
}
