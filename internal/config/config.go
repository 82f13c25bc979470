package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/rps-arena/internal/rps"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type AppConfig struct {
	HTTPAddr       string
	WSPath         string
	AllowedOrigins []string

	StoreBackend string
	RedisURL     string
	DatabaseURL  string

	Policy rps.Policy

	PersistAttempts  int
	PersistBaseDelay time.Duration
	PersistMaxDelay  time.Duration

	// ForfeitAfter is how long a disconnected participant may stay away
	// before losing the match. Zero waits indefinitely.
	ForfeitAfter time.Duration

	AlertWebhookURL string
	MessagesDir     string
	MetricsEnabled  bool
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:         ":8080",
		WSPath:           "/ws",
		Policy:           rps.DefaultPolicy(),
		PersistAttempts:  5,
		PersistBaseDelay: 100 * time.Millisecond,
		PersistMaxDelay:  5 * time.Second,
		MetricsEnabled:   true,
	}

	if v := strings.TrimSpace(os.Getenv("ARENA_HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ARENA_WS_PATH")); v != "" {
		if !strings.HasPrefix(v, "/") {
			v = "/" + v
		}
		cfg.WSPath = v
	}
	cfg.AllowedOrigins = splitList(os.Getenv("ARENA_ALLOWED_ORIGINS"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		switch {
		case cfg.DatabaseURL != "":
			cfg.StoreBackend = BackendPostgres
		case cfg.RedisURL != "":
			cfg.StoreBackend = BackendRedis
		default:
			cfg.StoreBackend = BackendMemory
		}
	}

	if v := strings.TrimSpace(os.Getenv("ROUND_COUNTING")); v != "" {
		c, err := rps.ParseCounting(v)
		if err != nil {
			return nil, err
		}
		cfg.Policy.Counting = c
	}
	if n, ok, err := intEnv("ROUNDS_TO_DECIDE"); err != nil {
		return nil, err
	} else if ok {
		cfg.Policy.Rounds = n
	}
	if n, ok, err := intEnv("MAX_ROUNDS"); err != nil {
		return nil, err
	} else if ok {
		cfg.Policy.MaxRounds = n
	}
	if n, ok, err := intEnv("PERSIST_RETRY_ATTEMPTS"); err != nil {
		return nil, err
	} else if ok && n > 0 {
		cfg.PersistAttempts = n
	}
	if n, ok, err := intEnv("PERSIST_RETRY_BASE_MS"); err != nil {
		return nil, err
	} else if ok && n > 0 {
		cfg.PersistBaseDelay = time.Duration(n) * time.Millisecond
	}
	if n, ok, err := intEnv("PERSIST_RETRY_MAX_MS"); err != nil {
		return nil, err
	} else if ok && n > 0 {
		cfg.PersistMaxDelay = time.Duration(n) * time.Millisecond
	}
	if n, ok, err := intEnv("FORFEIT_AFTER_SEC"); err != nil {
		return nil, err
	} else if ok && n >= 0 {
		cfg.ForfeitAfter = time.Duration(n) * time.Second
	}

	cfg.AlertWebhookURL = strings.TrimSpace(os.Getenv("ALERT_WEBHOOK_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	if v := strings.TrimSpace(os.Getenv("METRICS_ENABLED")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MetricsEnabled = b
		}
	}

	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("round policy: %w", err)
	}
	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis store")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	if cfg.PersistMaxDelay < cfg.PersistBaseDelay {
		cfg.PersistMaxDelay = cfg.PersistBaseDelay
	}

	return cfg, nil
}

func intEnv(key string) (int, bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
