package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "guide-router", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "event", cfg.Router.Channel)
	assert.Equal(t, "TEMP-", cfg.Router.TempUserPrefix)
	assert.Equal(t, "Drake", cfg.Router.DefaultSpecies)
	assert.Equal(t, CacheBackendFile, cfg.RuleSource.CacheBackend)
	assert.Equal(t, 2*time.Hour, cfg.Scheduler.IdleTimeout)
	assert.False(t, cfg.Redis.PublishEvents)
	assert.False(t, cfg.Server.DeactivateOnDisconnect)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("RULES_CACHE_BACKEND", "REDIS")
	t.Setenv("SESSION_IDLE_TIMEOUT", "45m")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "localhost:*, *.example.org")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "guide")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("REDIS_PUBLISH_EVENTS", "true")
	t.Setenv("SESSION_DEACTIVATE_ON_DISCONNECT", "1")
	t.Setenv("RULES_GROUPS_FILE", "groups.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, CacheBackendRedis, cfg.RuleSource.CacheBackend)
	assert.Equal(t, 45*time.Minute, cfg.Scheduler.IdleTimeout)
	assert.Equal(t, []string{"localhost:*", "*.example.org"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://guide:secret@db:5432/guide?sslmode=disable", cfg.Database.URL)
	assert.True(t, cfg.Redis.PublishEvents)
	assert.True(t, cfg.Server.DeactivateOnDisconnect)
	assert.Equal(t, "groups.yaml", cfg.RuleSource.GroupsFile)
}

func TestValidate(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("RULES_CACHE_BACKEND", "memcached")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
	assert.Contains(t, err.Error(), "RULES_CACHE_BACKEND")
}
