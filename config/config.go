package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT"      envDefault:"8080"  validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// Empty DATABASE_URL in local runs the API on the in-memory store.
	DatabaseURL string `env:"DATABASE_URL" validate:"required_unless=Env local"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	JWTSecret         string        `env:"JWT_SECRET,required" validate:"required,min=32"`
	SessionTTL        time.Duration `env:"SESSION_TTL"         envDefault:"168h" validate:"min=1m"`
	SessionRevocation string        `env:"SESSION_REVOCATION"  envDefault:"off"  validate:"oneof=off memory redis"`
	RedisURL          string        `env:"REDIS_URL"           validate:"required_if=SessionRevocation redis"`

	VerifyOTPTTL time.Duration `env:"VERIFY_OTP_TTL" envDefault:"24h" validate:"min=1m"`
	ResetOTPTTL  time.Duration `env:"RESET_OTP_TTL"  envDefault:"15m" validate:"min=1m"`

	HashConcurrency int `env:"HASH_CONCURRENCY" envDefault:"4" validate:"min=1,max=256"`

	EmailProvider    string `env:"EMAIL_PROVIDER"     envDefault:"log" validate:"oneof=log resend smtp"`
	EmailFrom        string `env:"EMAIL_FROM"         validate:"required_unless=EmailProvider log"`
	ResendAPIKey     string `env:"RESEND_API_KEY"     validate:"required_if=EmailProvider resend"`
	SMTPHost         string `env:"SMTP_HOST"          validate:"required_if=EmailProvider smtp"`
	SMTPPort         int    `env:"SMTP_PORT"          envDefault:"587"`
	SMTPUsername     string `env:"SMTP_USERNAME"`
	SMTPPassword     string `env:"SMTP_PASSWORD"`
	NotifyWorkers    int    `env:"NOTIFY_WORKERS"     envDefault:"8" validate:"min=1,max=1000"`
	NotifyMaxRetries uint64 `env:"NOTIFY_MAX_RETRIES" envDefault:"3" validate:"max=10"`

	AllowedOrigins          []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173" validate:"min=1,dive,url"`
	CookieDomain            string   `env:"COOKIE_DOMAIN"`
	RevealUnknownResetEmail bool     `env:"RESET_REVEAL_UNKNOWN_EMAIL" envDefault:"false"`

	SweepSchedule string `env:"SWEEP_SCHEDULE" envDefault:"@every 10m" validate:"required"`
	// Expired codes are kept this long so late attempts still report OtpExpired.
	SweepRetention time.Duration `env:"OTP_SWEEP_RETENTION" envDefault:"168h" validate:"min=24h"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	for i, o := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSuffix(strings.TrimSpace(o), "/")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.EmailProvider == "log" && !cfg.IsLocal() {
		return nil, errors.New("invalid config: EMAIL_PROVIDER=log is only allowed with ENV=local")
	}

	if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
		return nil, fmt.Errorf("invalid config: SWEEP_SCHEDULE: %w", err)
	}

	return cfg, nil
}

// SlogLevel maps LOG_LEVEL onto slog levels.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) IsLocal() bool {
	return c.Env == "local"
}
