// Package config loads server settings from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinJWTSecretLength is the shortest JWT_SECRET that enables auth routes.
const MinJWTSecretLength = 16

// Config holds every environment-driven setting.
type Config struct {
	Port        int
	DBPath      string // sqlite file, used when DatabaseURL is empty
	DatabaseURL string // postgres connection string

	JWTSecret string
	TokenTTL  time.Duration

	RedisURL string // empty disables the asynq queue and worker

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	SweepInterval         time.Duration
	PurgeRetention        time.Duration
	ReminderWindow        time.Duration
	StrictUpdateConflicts bool

	LogLevel  string
	LogFormat string
}

// Load reads the .env file (if any) and the environment. Values that fail to
// parse are reported together in one error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading .env: %w", err)
	}

	p := &parser{}
	cfg := Config{
		Port:                  p.int("PORT", 8080),
		DBPath:                getEnvWithDefault("DB_PATH", "data/scheduler.db"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		TokenTTL:              p.duration("TOKEN_TTL", 30*time.Minute),
		RedisURL:              os.Getenv("REDIS_URL"),
		GoogleClientID:        os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:    os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleCallbackURL:     os.Getenv("GOOGLE_CALLBACK_URL"),
		SweepInterval:         p.duration("SWEEP_INTERVAL", 5*time.Minute),
		PurgeRetention:        p.duration("PURGE_RETENTION", 30*24*time.Hour),
		ReminderWindow:        p.duration("REMINDER_WINDOW", 30*time.Minute),
		StrictUpdateConflicts: p.bool("STRICT_UPDATE_CONFLICTS", false),
		LogLevel:              getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:             getEnvWithDefault("LOG_FORMAT", "text"),
	}
	if cfg.GoogleCallbackURL == "" {
		cfg.GoogleCallbackURL = fmt.Sprintf("http://localhost:%d/auth/google/callback", cfg.Port)
	}

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and combinations that parsing alone cannot.
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: PORT %d out of range", c.Port))
	}
	if c.DatabaseURL == "" && c.DBPath == "" {
		errs = append(errs, errors.New("config: one of DB_PATH or DATABASE_URL is required"))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("config: JWT_SECRET must be at least %d characters", MinJWTSecretLength))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("config: TOKEN_TTL must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("config: SWEEP_INTERVAL must be positive"))
	}
	if c.PurgeRetention <= 0 {
		errs = append(errs, errors.New("config: PURGE_RETENTION must be positive"))
	}
	if c.ReminderWindow <= 0 {
		errs = append(errs, errors.New("config: REMINDER_WINDOW must be positive"))
	}
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		errs = append(errs, errors.New("config: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: LOG_FORMAT %q must be text or json", c.LogFormat))
	}

	return errors.Join(errs...)
}

// AuthEnabled reports whether a usable JWT secret is configured.
func (c Config) AuthEnabled() bool {
	return len(c.JWTSecret) >= MinJWTSecretLength
}

// GoogleEnabled reports whether calendar connect and sync are configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// LogValue keeps secrets out of the startup log line.
func (c Config) LogValue() slog.Value {
	backend := "sqlite"
	if c.DatabaseURL != "" {
		backend = "postgres"
	}
	return slog.GroupValue(
		slog.Int("port", c.Port),
		slog.String("backend", backend),
		slog.Bool("auth", c.AuthEnabled()),
		slog.Bool("google", c.GoogleEnabled()),
		slog.Bool("queue", c.RedisURL != ""),
		slog.Duration("sweep_interval", c.SweepInterval),
		slog.Bool("strict_update_conflicts", c.StrictUpdateConflicts),
	)
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser collects errors so one bad variable does not hide the next.
type parser struct {
	errs []error
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s: %q is not an integer", key, raw))
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s: %q is not a duration", key, raw))
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s: %q is not a boolean", key, raw))
		return def
	}
	return v
}
