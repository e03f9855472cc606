package config

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaultierq/n8n-resamania/internal/match"
	"github.com/gaultierq/n8n-resamania/pkg/types"
)

const minimalYAML = `
site:
  base_url: "https://gym.example"
targets:
  - day: "Friday"
    time: "18:30"
    activity: "CAF"
    enabled: true
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://gym.example/planning", cfg.Site.PlanningURL())
	assert.Equal(t, "https://gym.example/login", cfg.Site.LoginURL())
	assert.Equal(t, 15, cfg.Booking.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Booking.RetryBackoff.Duration)
	assert.Equal(t, 50, cfg.Booking.MaxCards)
	assert.Equal(t, 6*time.Hour, cfg.Window.MinAhead.Duration)
	assert.Equal(t, 96*time.Hour, cfg.Window.MaxAhead.Duration)
	assert.Equal(t, 10*time.Minute, cfg.Schedule.Interval.Duration)
	assert.True(t, cfg.Browser.Headless)
	assert.False(t, cfg.Session.Enabled())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(minimalYAML + "\nbookings: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config")
}

func TestLoadOverridesAndDurationForms(t *testing.T) {
	yaml := minimalYAML + `
window:
  min_ahead: "2h"
  max_ahead: 172800
booking:
  max_attempts: 3
  retry_backoff: "500ms"
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Window.MinAhead.Duration)
	// Bare numbers read as seconds.
	assert.Equal(t, 48*time.Hour, cfg.Window.MaxAhead.Duration)
	assert.Equal(t, 3, cfg.Booking.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Booking.RetryBackoff.Duration)
	assert.False(t, cfg.Booking.RetryBackoff.IsZero())
	assert.True(t, Duration{}.IsZero())
}

func TestLoadCanonicalisesTargetDay(t *testing.T) {
	yaml := `
site:
  base_url: "https://gym.example"
targets:
  - day: "friday"
    time: "18:30"
    activity: "CAF"
    enabled: true
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)
	require.Equal(t, "Friday", cfg.Targets[0].Day)

	// A target that validates must actually match its slot.
	m := match.New(cfg.Targets,
		cfg.Window.MinAhead.Duration, cfg.Window.MaxAhead.Duration,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)
	slot := types.Slot{
		Activity: "CAF Pump",
		TimeText: "18:30",
		Day:      types.Friday,
		Starts:   time.Date(2026, time.January, 16, 18, 30, 0, 0, time.UTC),
		Bookable: true,
	}
	assert.Len(t, m.Match([]types.Slot{slot}, now), 1)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing base url", func(c *Config) {
			c.Site.BaseURL = ""
		}, "site.base_url"},
		{"no targets", func(c *Config) {
			c.Targets = nil
		}, "at least one target"},
		{"bad day name", func(c *Config) {
			c.Targets[0].Day = "Friyay"
		}, "invalid day"},
		{"bad time format", func(c *Config) {
			c.Targets[0].Time = "18h30"
		}, "invalid time"},
		{"empty activity", func(c *Config) {
			c.Targets[0].Activity = "  "
		}, "empty activity"},
		{"window inverted", func(c *Config) {
			c.Window.MinAhead = DurationFrom(5 * 24 * time.Hour)
		}, "must exceed"},
		{"zero attempts", func(c *Config) {
			c.Booking.MaxAttempts = 0
		}, "max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Site.BaseURL = "https://gym.example"
			cfg.Targets = []types.Target{{Day: "Friday", Time: "18:30", Activity: "CAF", Enabled: true}}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCredentialsComplete(t *testing.T) {
	assert.False(t, Credentials{}.Complete())
	assert.False(t, Credentials{Email: "a@b.c"}.Complete())
	assert.True(t, Credentials{Email: "a@b.c", Password: "pw"}.Complete())
}
