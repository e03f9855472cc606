package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gaultierq/n8n-resamania/pkg/types"
)

// Config captures the full configuration required to run the booking bot.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Targets  []types.Target `yaml:"targets"`
	Window   WindowConfig   `yaml:"window"`
	Booking  BookingConfig  `yaml:"booking"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Browser  BrowserConfig  `yaml:"browser"`
	Session  SessionConfig  `yaml:"session"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Credentials are resolved from the environment once at load time and
	// handed down; core logic never reads process state directly.
	Credentials Credentials `yaml:"-"`
}

// SiteConfig identifies the member portal being driven.
type SiteConfig struct {
	BaseURL      string `yaml:"base_url"`
	PlanningPath string `yaml:"planning_path"`
	LoginPath    string `yaml:"login_path"`
}

// PlanningURL returns the absolute URL of the class listing page.
func (s SiteConfig) PlanningURL() string {
	return strings.TrimRight(s.BaseURL, "/") + s.PlanningPath
}

// LoginURL returns the absolute URL of the login page.
func (s SiteConfig) LoginURL() string {
	return strings.TrimRight(s.BaseURL, "/") + s.LoginPath
}

// Credentials hold the member login. Loaded from RESAMANIA_EMAIL and
// RESAMANIA_PASSWORD.
type Credentials struct {
	Email    string
	Password string
}

// WindowConfig bounds how far ahead a slot may start to be worth booking.
// Both bounds are inclusive.
type WindowConfig struct {
	MinAhead Duration `yaml:"min_ahead"`
	MaxAhead Duration `yaml:"max_ahead"`
}

// BookingConfig tunes the retry loop and the per-slot booking procedure.
type BookingConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	RetryBackoff    Duration `yaml:"retry_backoff"`
	SettleDelay     Duration `yaml:"settle_delay"`
	ToastTimeout    Duration `yaml:"toast_timeout"`
	BetweenBookings Duration `yaml:"between_bookings"`
	MaxCards        int      `yaml:"max_cards"`
}

// ScheduleConfig controls the periodic trigger that starts booking runs.
type ScheduleConfig struct {
	Interval Duration `yaml:"interval"`
}

// BrowserConfig controls the headless Chrome session.
type BrowserConfig struct {
	Headless    bool     `yaml:"headless"`
	Timeout     Duration `yaml:"timeout"`
	UserAgent   string   `yaml:"user_agent"`
	ActionDelay Duration `yaml:"action_delay"`
}

// SessionConfig configures cookie persistence and the keep-alive ping.
type SessionConfig struct {
	RedisAddr     string   `yaml:"redis_addr"`
	RedisDB       int      `yaml:"redis_db"`
	RedisPassword string   `yaml:"redis_password"`
	Key           string   `yaml:"key"`
	PingInterval  Duration `yaml:"ping_interval"`
}

// Enabled reports whether session persistence is configured.
func (s SessionConfig) Enabled() bool {
	return strings.TrimSpace(s.RedisAddr) != ""
}

// NotifyConfig configures the Telegram outcome notifier. The bot token is
// resolved from TELEGRAM_BOT_TOKEN at load time; notifications are disabled
// when it is absent.
type NotifyConfig struct {
	ChatID      int64 `yaml:"chat_id"`
	OnExhausted bool  `yaml:"on_exhausted"`

	Token string `yaml:"-"`
}

// Enabled reports whether the notifier can be constructed.
func (n NotifyConfig) Enabled() bool {
	return n.Token != "" && n.ChatID != 0
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Site: SiteConfig{
			PlanningPath: "/planning",
			LoginPath:    "/login",
		},
		Window: WindowConfig{
			MinAhead: DurationFrom(6 * time.Hour),
			MaxAhead: DurationFrom(4 * 24 * time.Hour),
		},
		Booking: BookingConfig{
			MaxAttempts:     15,
			RetryBackoff:    DurationFrom(time.Second),
			SettleDelay:     DurationFrom(2 * time.Second),
			ToastTimeout:    DurationFrom(5 * time.Second),
			BetweenBookings: DurationFrom(3 * time.Second),
			MaxCards:        50,
		},
		Schedule: ScheduleConfig{
			Interval: DurationFrom(10 * time.Minute),
		},
		Browser: BrowserConfig{
			Headless:    true,
			Timeout:     DurationFrom(30 * time.Second),
			ActionDelay: DurationFrom(500 * time.Millisecond),
		},
		Session: SessionConfig{
			Key:          "resamania:session",
			PingInterval: DurationFrom(10 * time.Minute),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: false,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.Credentials = Credentials{
		Email:    strings.TrimSpace(os.Getenv("RESAMANIA_EMAIL")),
		Password: os.Getenv("RESAMANIA_PASSWORD"),
	}
	cfg.Notify.Token = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants for the bot configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Site.BaseURL) == "" {
		return errors.New("site.base_url must be set")
	}
	if len(c.Targets) == 0 {
		return errors.New("at least one target class must be configured")
	}
	for i, t := range c.Targets {
		if types.ParseWeekday(t.Day) == types.WeekdayUnknown {
			return fmt.Errorf("target %d has invalid day %q", i, t.Day)
		}
		if _, err := time.Parse("15:04", t.Time); err != nil {
			return fmt.Errorf("target %d has invalid time %q (want HH:MM)", i, t.Time)
		}
		if strings.TrimSpace(t.Activity) == "" {
			return fmt.Errorf("target %d has empty activity", i)
		}
	}
	if c.Window.MinAhead.Duration < 0 {
		return fmt.Errorf("window.min_ahead must be >= 0 (got %s)", c.Window.MinAhead)
	}
	if c.Window.MaxAhead.Duration <= c.Window.MinAhead.Duration {
		return fmt.Errorf("window.max_ahead (%s) must exceed window.min_ahead (%s)",
			c.Window.MaxAhead, c.Window.MinAhead)
	}
	if c.Booking.MaxAttempts < 1 {
		return fmt.Errorf("booking.max_attempts must be >= 1 (got %d)", c.Booking.MaxAttempts)
	}
	if c.Booking.MaxCards <= 0 {
		return fmt.Errorf("booking.max_cards must be > 0 (got %d)", c.Booking.MaxCards)
	}
	if c.Schedule.Interval.Duration <= 0 {
		return fmt.Errorf("schedule.interval must be > 0 (got %s)", c.Schedule.Interval)
	}
	return nil
}

// Complete reports whether the credentials were present in the environment.
// Checked by the engine right before it needs to log in, so config loading
// and tests do not depend on ambient process state.
func (c Credentials) Complete() bool {
	return c.Email != "" && c.Password != ""
}

func (c *Config) normalise() {
	c.Site.BaseURL = strings.TrimSpace(c.Site.BaseURL)
	c.Site.PlanningPath = strings.TrimSpace(c.Site.PlanningPath)
	c.Site.LoginPath = strings.TrimSpace(c.Site.LoginPath)
	c.Browser.UserAgent = strings.TrimSpace(c.Browser.UserAgent)
	c.Session.RedisAddr = strings.TrimSpace(c.Session.RedisAddr)
	c.Session.Key = strings.TrimSpace(c.Session.Key)
	for i := range c.Targets {
		day := strings.TrimSpace(c.Targets[i].Day)
		// Matching compares day names exactly, so accept any casing here and
		// store the canonical form. Unrecognised names are left as-is for
		// Validate to report.
		if w := types.ParseWeekday(day); w.Known() {
			day = w.String()
		}
		c.Targets[i].Day = day
		c.Targets[i].Time = strings.TrimSpace(c.Targets[i].Time)
		c.Targets[i].Activity = strings.TrimSpace(c.Targets[i].Activity)
	}
}
