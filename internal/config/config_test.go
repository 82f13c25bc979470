package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/park285/rps-arena/internal/rps"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ARENA_HTTP_ADDR", "ARENA_WS_PATH", "ARENA_ALLOWED_ORIGINS", "STORE_BACKEND",
		"REDIS_URL", "DATABASE_URL", "ROUND_COUNTING", "ROUNDS_TO_DECIDE", "MAX_ROUNDS",
		"PERSIST_RETRY_ATTEMPTS", "PERSIST_RETRY_BASE_MS", "PERSIST_RETRY_MAX_MS",
		"FORFEIT_AFTER_SEC", "ALERT_WEBHOOK_URL", "MESSAGES_DIR", "METRICS_ENABLED",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "/ws", cfg.WSPath)
	require.Equal(t, BackendMemory, cfg.StoreBackend)
	require.Equal(t, rps.DefaultPolicy(), cfg.Policy)
	require.Equal(t, 5, cfg.PersistAttempts)
	require.Zero(t, cfg.ForfeitAfter)
	require.True(t, cfg.MetricsEnabled)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARENA_WS_PATH", "play")
	t.Setenv("ARENA_ALLOWED_ORIGINS", "arena.example.com, *.example.org ,")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ROUND_COUNTING", "fixed")
	t.Setenv("ROUNDS_TO_DECIDE", "5")
	t.Setenv("PERSIST_RETRY_BASE_MS", "250")
	t.Setenv("PERSIST_RETRY_MAX_MS", "100")
	t.Setenv("FORFEIT_AFTER_SEC", "30")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/play", cfg.WSPath)
	require.Equal(t, []string{"arena.example.com", "*.example.org"}, cfg.AllowedOrigins)
	require.Equal(t, BackendRedis, cfg.StoreBackend)
	require.Equal(t, rps.Policy{Counting: rps.CountFixed, Rounds: 5}, cfg.Policy)
	require.Equal(t, 250*time.Millisecond, cfg.PersistBaseDelay)
	require.Equal(t, 250*time.Millisecond, cfg.PersistMaxDelay, "max delay is raised to the base delay")
	require.Equal(t, 30*time.Second, cfg.ForfeitAfter)
	require.False(t, cfg.MetricsEnabled)
}

func TestLoadPrefersPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATABASE_URL", "postgres://arena@localhost/arena?sslmode=disable")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendPostgres, cfg.StoreBackend)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"redis without url":    {"STORE_BACKEND": "redis"},
		"postgres without url": {"STORE_BACKEND": "postgres"},
		"unknown backend":      {"STORE_BACKEND": "mongo"},
		"bad counting":         {"ROUND_COUNTING": "sometimes"},
		"bad rounds":           {"ROUNDS_TO_DECIDE": "three"},
		"zero rounds":          {"ROUNDS_TO_DECIDE": "0"},
		"cap below rounds":     {"ROUNDS_TO_DECIDE": "3", "MAX_ROUNDS": "2"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
