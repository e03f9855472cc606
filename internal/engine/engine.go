package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gaultierq/n8n-resamania/internal/booking"
	"github.com/gaultierq/n8n-resamania/internal/browser"
	"github.com/gaultierq/n8n-resamania/internal/config"
	"github.com/gaultierq/n8n-resamania/internal/extract"
	"github.com/gaultierq/n8n-resamania/internal/match"
	"github.com/gaultierq/n8n-resamania/internal/notify"
	"github.com/gaultierq/n8n-resamania/internal/session"
	"github.com/gaultierq/n8n-resamania/pkg/types"
)

// loginProbeSelector detects an unauthenticated page: the portal only ever
// renders a password input on the login form.
const loginProbeSelector = `input[type="password"]`

// maxSessionAge bounds how old a saved cookie snapshot may be before a fresh
// login is forced instead of replaying it.
const maxSessionAge = 30 * 24 * time.Hour

// Engine wires the browser, session persistence, notifier, and booking
// runner together and drives them on the configured schedule.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	chrome   *browser.Chrome
	store    session.Store
	notifier notify.Notifier
	runner   *booking.Runner
	pinger   *session.Pinger

	closers   []func() error
	closeOnce sync.Once
}

// New builds a booking engine from configuration.
func New(cfg *config.Config) (*Engine, error) {
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	chrome, err := browser.New(cfg.Browser, logger.With("component", "browser"))
	if err != nil {
		return nil, fmt.Errorf("browser: %w", err)
	}
	closers := []func() error{func() error { chrome.Close(); return nil }}

	var store session.Store = session.Noop{}
	if cfg.Session.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		redisStore, err := session.NewRedisStore(ctx, cfg.Session)
		cancel()
		if err != nil {
			chrome.Close()
			return nil, fmt.Errorf("session store: %w", err)
		}
		store = redisStore
		closers = append(closers, redisStore.Close)
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.Enabled() {
		telegram, err := notify.NewTelegram(cfg.Notify.Token, cfg.Notify.ChatID)
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("notifier: %w", err)
		}
		notifier = telegram
	}

	extractor := extract.New(logger.With("component", "extract"))
	extractor.MaxCards = cfg.Booking.MaxCards

	matcher := match.New(cfg.Targets,
		cfg.Window.MinAhead.Duration, cfg.Window.MaxAhead.Duration,
		logger.With("component", "match"))

	runner := booking.NewRunner(chrome, extractor, matcher, logger.With("component", "booking"))
	runner.MaxAttempts = cfg.Booking.MaxAttempts
	runner.MaxCards = cfg.Booking.MaxCards
	runner.RetryBackoff = cfg.Booking.RetryBackoff.Duration
	runner.SettleDelay = cfg.Booking.SettleDelay.Duration
	runner.ToastTimeout = cfg.Booking.ToastTimeout.Duration
	runner.BetweenBookings = cfg.Booking.BetweenBookings.Duration

	var pinger *session.Pinger
	if cfg.Session.Enabled() && cfg.Session.PingInterval.Duration > 0 {
		pinger = session.NewPinger(cfg.Site.PlanningURL(), cfg.Session.PingInterval.Duration,
			store, logger.With("component", "session"))
		pinger.UserAgent = cfg.Browser.UserAgent
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger,
		chrome:   chrome,
		store:    store,
		notifier: notifier,
		runner:   runner,
		pinger:   pinger,
		closers:  closers,
	}, nil
}

// Close releases the browser and any backing stores. Safe to call twice.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		closeAll(e.closers)
	})
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
}

// Run triggers a booking run immediately and then once per configured
// interval until the context is cancelled. A run that errors stops the
// engine; exhausting the attempt budget does not.
func (e *Engine) Run(ctx context.Context) error {
	if e.pinger != nil {
		go e.pinger.Run(ctx)
	}
	if _, err := e.RunOnce(ctx); err != nil {
		return err
	}
	interval := e.cfg.Schedule.Interval.Duration
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("shutting down")
			return nil
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					e.logger.Info("shutting down")
					return nil
				}
				return err
			}
		}
	}
}

// RunOnce performs a single authenticated booking run.
func (e *Engine) RunOnce(ctx context.Context) (types.RunResult, error) {
	if err := e.ensureAuthenticated(ctx); err != nil {
		return types.RunResult{}, err
	}
	if err := e.chrome.WaitVisible(ctx, booking.CardSelector, e.cfg.Browser.Timeout.Duration); err != nil {
		e.logger.Debug("no cards visible yet", "error", err)
	}

	res, err := e.runner.Run(ctx)
	if err != nil {
		return res, err
	}
	e.logger.Info("run finished",
		"attempts", res.Attempts,
		"booked", res.TotalBooked,
		"elapsed", res.Elapsed.Round(time.Millisecond))
	e.maybeNotify(ctx, res)
	return res, nil
}

func (e *Engine) maybeNotify(ctx context.Context, res types.RunResult) {
	if res.TotalBooked == 0 && !e.cfg.Notify.OnExhausted {
		return
	}
	if err := e.notifier.Notify(ctx, notify.RunSummary(res)); err != nil {
		e.logger.Warn("notify failed", "error", err)
	}
}

// ensureAuthenticated puts the browser on the planning page with a live
// member session: restored cookies when a saved snapshot still works, a
// fresh form login otherwise.
func (e *Engine) ensureAuthenticated(ctx context.Context) error {
	planning := e.cfg.Site.PlanningURL()
	creds := e.cfg.Credentials

	snap, found, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Warn("session load failed", "error", err)
	}
	if found && !snap.Stale(maxSessionAge) && strings.EqualFold(snap.Email, creds.Email) {
		if err := e.chrome.ImportCookies(ctx, snap.Cookies); err != nil {
			e.logger.Warn("cookie restore failed", "error", err)
		} else {
			e.logger.Debug("restored session", "saved_at", snap.SavedAt)
		}
	}

	if err := e.chrome.Navigate(ctx, planning); err != nil {
		return fmt.Errorf("open planning page: %w", err)
	}
	if ok, err := e.loggedIn(ctx); err != nil {
		return err
	} else if ok {
		return nil
	}

	if !creds.Complete() {
		return errors.New("login required but RESAMANIA_EMAIL / RESAMANIA_PASSWORD are not set")
	}
	e.logger.Info("logging in", "email", creds.Email)
	if err := e.chrome.Login(ctx, e.cfg.Site.LoginURL(), creds); err != nil {
		return err
	}
	if err := e.chrome.Navigate(ctx, planning); err != nil {
		return fmt.Errorf("open planning page: %w", err)
	}
	if ok, err := e.loggedIn(ctx); err != nil {
		return err
	} else if !ok {
		return errors.New("login did not produce an authenticated session")
	}

	cookies, err := e.chrome.ExportCookies(ctx)
	if err != nil {
		e.logger.Warn("cookie export failed", "error", err)
		return nil
	}
	if err := e.store.Save(ctx, session.Snapshot{
		Cookies: cookies,
		Email:   creds.Email,
		SavedAt: time.Now(),
	}); err != nil {
		e.logger.Warn("session save failed", "error", err)
	}
	return nil
}

// loggedIn reports whether the current page belongs to an authenticated
// session. The portal bounces anonymous visitors to the login form, so
// landing on the login path or seeing a password field means logged out.
func (e *Engine) loggedIn(ctx context.Context) (bool, error) {
	url, err := e.chrome.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	hasPassword, err := e.chrome.Exists(ctx, loginProbeSelector)
	if err != nil {
		return false, err
	}
	return looksAuthenticated(url, e.cfg.Site.LoginPath, hasPassword), nil
}

func looksAuthenticated(url, loginPath string, hasPassword bool) bool {
	if hasPassword {
		return false
	}
	if loginPath != "" && strings.Contains(url, loginPath) {
		return false
	}
	return true
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
