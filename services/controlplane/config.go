package controlplane

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the daemon's process-level configuration. Everything tunable
// at runtime lives in the settings table instead; this is only what must be
// known before the database is reachable.
type Config struct {
	Addr         string
	DatabaseURL  string
	NATSURL      string
	EngineBin    string
	WorkRoot     string
	PollInterval time.Duration
	WorkerCount  int
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Addr:         envDefault("ADDR", ":8080"),
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		NATSURL:      strings.TrimSpace(os.Getenv("NATS_URL")),
		EngineBin:    envDefault("ENGINE_BIN", "ansible-runner"),
		WorkRoot:     strings.TrimSpace(os.Getenv("WORK_ROOT")),
		PollInterval: 5 * time.Second,
		WorkerCount:  8,
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	if raw := os.Getenv("POLL_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, errors.New("POLL_INTERVAL must be a positive duration")
		}
		cfg.PollInterval = d
	}
	if raw := os.Getenv("WORKER_POOL_SIZE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, errors.New("WORKER_POOL_SIZE must be a positive integer")
		}
		cfg.WorkerCount = n
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
