// Package config loads the relay's process configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds every environment-tunable setting the relay process
// needs, with sane defaults for anything left unset.
type Config struct {
	Port             int
	InstanceID       string
	RedisURL         string
	LogLevel         string
	Development      bool
	EvictAfter       time.Duration
	SnapshotInterval time.Duration
	AllowedOrigins   []string
}

// Load reads Config from the process environment, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnvAsInt("PORT", 1234),
		InstanceID:       getEnv("INSTANCE_ID", uuid.NewString()),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Development:      getEnv("GO_ENV", "development") != "production",
		EvictAfter:       getEnvAsDuration("EVICT_AFTER", 60*time.Second),
		SnapshotInterval: getEnvAsDuration("SNAPSHOT_INTERVAL", 5*time.Second),
		AllowedOrigins:   getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
	}

	if errs := cfg.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c *Config) validate() []string {
	var errs []string
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT out of range: %d", c.Port))
	}
	if c.InstanceID == "" {
		errs = append(errs, "INSTANCE_ID must not be empty")
	}
	if c.RedisURL == "" {
		errs = append(errs, "REDIS_URL must not be empty")
	}
	return errs
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvAsList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
