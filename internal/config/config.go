// Package config loads and validates service config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"gymledger/internal/membership"
	"gymledger/internal/notify"
	"gymledger/internal/reminders"
)

// Config holds the configuration shared by the gym binaries.
type Config struct {
	// HTTPAddr is the address the membership API listens on.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN; required when StoreDriver is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// StoreDriver is postgres or memory.
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	// AutoMigrate applies pending migrations at startup.
	AutoMigrate     bool          `mapstructure:"AUTO_MIGRATE"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
	// OTLPEndpoint enables trace export when set (host:port).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `mapstructure:"SERVICE_NAME"`

	// StatusPrecedence is expiry or payment.
	StatusPrecedence string `mapstructure:"STATUS_PRECEDENCE"`
	// PlanDurations overrides the plan catalog, e.g. "weekly=7,monthly=30".
	PlanDurations string        `mapstructure:"PLAN_DURATIONS"`
	NotifyTimeout time.Duration `mapstructure:"NOTIFY_TIMEOUT"`

	// RedisURL backs the reminder markers; empty keeps them in memory.
	RedisURL string `mapstructure:"REDIS_URL"`
	// MembershipServiceURL is where the reminder worker reads members from;
	// empty runs the worker against its own store.
	MembershipServiceURL string        `mapstructure:"MEMBERSHIP_SERVICE_URL"`
	ClientTimeout        time.Duration `mapstructure:"CLIENT_TIMEOUT"`
	ReminderPaymentSpec  string        `mapstructure:"REMINDER_PAYMENT_SPEC"`
	ReminderExpirySpec   string        `mapstructure:"REMINDER_EXPIRY_SPEC"`
	ReminderWelcomeSpec  string        `mapstructure:"REMINDER_WELCOME_SPEC"`
	ReminderTimezone     string        `mapstructure:"REMINDER_TIMEZONE"`
	ReminderMarkerTTL    time.Duration `mapstructure:"REMINDER_MARKER_TTL"`
	ReminderRunTimeout   time.Duration `mapstructure:"REMINDER_RUN_TIMEOUT"`
	ReminderBatchSize    int           `mapstructure:"REMINDER_BATCH_SIZE"`
	ExpiryWindowDays     int           `mapstructure:"EXPIRY_WINDOW_DAYS"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
	SMTPFromName string `mapstructure:"SMTP_FROM_NAME"`
	SMTPTLS      bool   `mapstructure:"SMTP_TLS"`
	NotifyPerMin int    `mapstructure:"NOTIFY_RATE_PER_MINUTE"`
	GymName      string `mapstructure:"GYM_NAME"`
	GymAddress   string `mapstructure:"GYM_ADDRESS"`
	GymPhone     string `mapstructure:"GYM_PHONE"`
	GymEmail     string `mapstructure:"GYM_EMAIL"`

	// Parsed forms, filled by Load.
	Plans      membership.Plans      `mapstructure:"-"`
	Precedence membership.Precedence `mapstructure:"-"`
	Location   *time.Location        `mapstructure:"-"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("SERVICE_NAME", "gymledger")
	v.SetDefault("STATUS_PRECEDENCE", "expiry")
	v.SetDefault("PLAN_DURATIONS", "")
	v.SetDefault("NOTIFY_TIMEOUT", "30s")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("MEMBERSHIP_SERVICE_URL", "")
	v.SetDefault("CLIENT_TIMEOUT", "15s")
	v.SetDefault("REMINDER_PAYMENT_SPEC", "0 9 * * 1")
	v.SetDefault("REMINDER_EXPIRY_SPEC", "0 9 * * *")
	v.SetDefault("REMINDER_WELCOME_SPEC", "")
	v.SetDefault("REMINDER_TIMEZONE", "UTC")
	v.SetDefault("REMINDER_MARKER_TTL", "720h") // 30d
	v.SetDefault("REMINDER_RUN_TIMEOUT", "10m")
	v.SetDefault("REMINDER_BATCH_SIZE", 100)
	v.SetDefault("EXPIRY_WINDOW_DAYS", 7)
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("SMTP_FROM_NAME", "")
	v.SetDefault("SMTP_TLS", false)
	v.SetDefault("NOTIFY_RATE_PER_MINUTE", 30)
	v.SetDefault("GYM_NAME", "The Fit Forge Gym")
	v.SetDefault("GYM_ADDRESS", "")
	v.SetDefault("GYM_PHONE", "")
	v.SetDefault("GYM_EMAIL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("config: STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver)
	}

	plans, err := membership.ParsePlans(c.PlanDurations)
	if err != nil {
		return fmt.Errorf("config: PLAN_DURATIONS: %w", err)
	}
	c.Plans = plans

	precedence, err := membership.ParsePrecedence(c.StatusPrecedence)
	if err != nil {
		return fmt.Errorf("config: STATUS_PRECEDENCE: %w", err)
	}
	c.Precedence = precedence

	loc, err := time.LoadLocation(c.ReminderTimezone)
	if err != nil {
		return fmt.Errorf("config: REMINDER_TIMEZONE: %w", err)
	}
	c.Location = loc

	for key, spec := range map[string]string{
		"REMINDER_PAYMENT_SPEC": c.ReminderPaymentSpec,
		"REMINDER_EXPIRY_SPEC":  c.ReminderExpirySpec,
		"REMINDER_WELCOME_SPEC": c.ReminderWelcomeSpec,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
	}

	if c.ExpiryWindowDays <= 0 {
		return errors.New("config: EXPIRY_WINDOW_DAYS must be positive")
	}
	if c.ReminderBatchSize <= 0 {
		return errors.New("config: REMINDER_BATCH_SIZE must be positive")
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return errors.New("config: SMTP_FROM must be set when SMTP_HOST is set")
	}
	return nil
}

// Schedule returns the reminder scheduler settings.
func (c *Config) Schedule() reminders.ScheduleConfig {
	return reminders.ScheduleConfig{
		PaymentSpec:      c.ReminderPaymentSpec,
		ExpirySpec:       c.ReminderExpirySpec,
		WelcomeSpec:      c.ReminderWelcomeSpec,
		ExpiryWindowDays: c.ExpiryWindowDays,
		RunTimeout:       c.ReminderRunTimeout,
		Location:         c.Location,
	}
}

// SMTP returns the outgoing mail settings.
func (c *Config) SMTP() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		User:     c.SMTPUser,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
		FromName: c.SMTPFromName,
		UseTLS:   c.SMTPTLS,
	}
}

// Gym returns the branding used in notifications.
func (c *Config) Gym() notify.Gym {
	return notify.Gym{
		Name:    c.GymName,
		Address: c.GymAddress,
		Phone:   c.GymPhone,
		Email:   c.GymEmail,
	}
}
