package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, float64(100), cfg.Server.RateLimitRPS)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, 100, cfg.Engine.MaxSteps)
	assert.Equal(t, 16, cfg.Engine.MaxConcurrentRuns)

	assert.Equal(t, "./agents", cfg.Agents.Dir)
	assert.True(t, cfg.Agents.Watch)
	assert.Equal(t, time.Second, cfg.Agents.PollInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Agents.DebounceDelay)

	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
	assert.Equal(t, 2*time.Minute, cfg.LLM.Timeout)
	assert.Equal(t, 4000, cfg.LLM.HistoryBudget)
	assert.Empty(t, cfg.LLM.OpenAI.APIKey)

	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "agentrun", cfg.Mongo.Database)
	assert.Equal(t, 32, cfg.Mongo.MaxPoolSize)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "agentrun:sess:", cfg.Redis.KeyPrefix)

	assert.Equal(t, "memory", cfg.Sessions.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Sessions.TTL)
	assert.Equal(t, 50, cfg.Sessions.HistoryLimit)

	assert.False(t, cfg.Records.Enabled)
	assert.Equal(t, "sqlite", cfg.Records.Driver)
	assert.Equal(t, "agentrun.db", cfg.Records.Name)
	assert.Equal(t, 256, cfg.Records.QueueSize)

	assert.False(t, cfg.Telegram.Enabled)
	assert.Equal(t, float64(25), cfg.Telegram.MessagesPerSecond)

	assert.True(t, cfg.Scheduler.Enabled)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"stdout"}, cfg.Log.OutputPaths)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9091, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "agentrun", cfg.Telemetry.ServiceName)
	assert.InDelta(t, 0.1, cfg.Telemetry.SampleRate, 1e-9)
}

func TestDefaultConfigValidates(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())
}
