package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr            string
	DatabaseDriver  string
	DatabaseURL     string
	StrictOwnership bool
	ActivityCap     int
	BusyTimeout     time.Duration
	CORSOrigin      string
	// Redis Configuration. Empty keeps sessions in process memory.
	RedisURL   string
	SessionTTL time.Duration
	LogLevel   string
	LogFormat  string
}

var defaults = map[string]any{
	"API_ADDR":                     ":8787",
	"DATABASE_DRIVER":              "sqlite",
	"DATABASE_URL":                 "file:./data/caseload.db",
	"CASELOAD_STRICT_OWNERSHIP":    false,
	"CASELOAD_ACTIVITY_CAP":        10,
	"CASELOAD_BUSY_TIMEOUT_MS":     5000,
	"CASELOAD_CORS_ORIGIN":         "*",
	"REDIS_URL":                    "",
	"CASELOAD_SESSION_TTL_SECONDS": 43200,
	"LOG_LEVEL":                    "info",
	"LOG_FORMAT":                   "json",
}

// Load reads configuration from the environment, optionally layered over the
// file named by CASELOAD_CONFIG.
func Load() (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CASELOAD_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Addr:            v.GetString("API_ADDR"),
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(v.GetString("DATABASE_DRIVER"))),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		StrictOwnership: v.GetBool("CASELOAD_STRICT_OWNERSHIP"),
		ActivityCap:     v.GetInt("CASELOAD_ACTIVITY_CAP"),
		BusyTimeout:     time.Duration(v.GetInt("CASELOAD_BUSY_TIMEOUT_MS")) * time.Millisecond,
		CORSOrigin:      v.GetString("CASELOAD_CORS_ORIGIN"),
		RedisURL:        strings.TrimSpace(v.GetString("REDIS_URL")),
		SessionTTL:      time.Duration(v.GetInt("CASELOAD_SESSION_TTL_SECONDS")) * time.Second,
		LogLevel:        strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:       strings.ToLower(v.GetString("LOG_FORMAT")),
	}
	if cfg.ActivityCap < 1 {
		return Config{}, fmt.Errorf("CASELOAD_ACTIVITY_CAP must be at least 1, got %d", cfg.ActivityCap)
	}
	if cfg.BusyTimeout <= 0 {
		return Config{}, fmt.Errorf("CASELOAD_BUSY_TIMEOUT_MS must be positive")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("CASELOAD_SESSION_TTL_SECONDS must be positive")
	}
	switch cfg.DatabaseDriver {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pgx":
	default:
		return Config{}, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	return cfg, nil
}
