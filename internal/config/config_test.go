package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymledger/internal/membership"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.NotifyTimeout)
	assert.Equal(t, membership.DefaultPlans(), cfg.Plans)
	assert.Equal(t, membership.PrecedenceExpiry, cfg.Precedence)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, 720*time.Hour, cfg.ReminderMarkerTTL)
	assert.Equal(t, 7, cfg.ExpiryWindowDays)
	assert.Equal(t, 100, cfg.ReminderBatchSize)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, "The Fit Forge Gym", cfg.Gym().Name)

	sched := cfg.Schedule()
	assert.Equal(t, "0 9 * * 1", sched.PaymentSpec)
	assert.Equal(t, "0 9 * * *", sched.ExpirySpec)
	assert.Empty(t, sched.WelcomeSpec)
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://gym@localhost/gym?sslmode=disable")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("STATUS_PRECEDENCE", "payment")
	t.Setenv("PLAN_DURATIONS", "weekly=7, Student=45")
	t.Setenv("REMINDER_TIMEZONE", "Asia/Kolkata")
	t.Setenv("REMINDER_MARKER_TTL", "48h")
	t.Setenv("EXPIRY_WINDOW_DAYS", "3")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "desk@example.com")
	t.Setenv("SMTP_TLS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, membership.PrecedencePayment, cfg.Precedence)
	assert.Equal(t, membership.Plans{"weekly": 7, "student": 45}, cfg.Plans)
	assert.Equal(t, "Asia/Kolkata", cfg.Location.String())
	assert.Equal(t, 48*time.Hour, cfg.ReminderMarkerTTL)
	assert.Equal(t, 3, cfg.Schedule().ExpiryWindowDays)
	assert.True(t, cfg.SMTP().UseTLS)
	assert.Equal(t, "smtp.example.com", cfg.SMTP().Host)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "sqlite"}},
		{"bad plans", map[string]string{"STORE_DRIVER": "memory", "PLAN_DURATIONS": "weekly=seven"}},
		{"bad precedence", map[string]string{"STORE_DRIVER": "memory", "STATUS_PRECEDENCE": "alphabetical"}},
		{"bad cron", map[string]string{"STORE_DRIVER": "memory", "REMINDER_EXPIRY_SPEC": "daily"}},
		{"bad timezone", map[string]string{"STORE_DRIVER": "memory", "REMINDER_TIMEZONE": "Mars/Olympus"}},
		{"zero window", map[string]string{"STORE_DRIVER": "memory", "EXPIRY_WINDOW_DAYS": "0"}},
		{"smtp without sender", map[string]string{"STORE_DRIVER": "memory", "SMTP_HOST": "smtp.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
