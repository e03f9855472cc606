package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/gaultierq/n8n-resamania/internal/config"
	"github.com/gaultierq/n8n-resamania/pkg/types"
)

const (
	loginEmailSelector    = `input[type="email"], input[name="username"]`
	loginPasswordSelector = `input[type="password"]`
	loginSubmitSelector   = `button[type="submit"]`
)

// Chrome drives a single headless Chrome tab. All operations share one
// logical thread of control, so the generation counter and card selector
// need no synchronisation.
type Chrome struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger

	gen     uint64
	cardSel string
}

// New launches a browser according to the configuration. The caller owns the
// instance and must Close it.
func New(cfg config.BrowserConfig, logger *slog.Logger) (*Chrome, error) {
	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	}
	if ua := strings.TrimSpace(cfg.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	// Force the browser process up front so a broken Chrome install fails
	// here instead of mid-run.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.ActionDelay.Duration > 0 {
		limit = rate.Every(cfg.ActionDelay.Duration)
	}

	return &Chrome{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		timeout:     timeout,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger,
	}, nil
}

// Close tears down the tab and the browser process.
func (c *Chrome) Close() {
	c.cancel()
	c.allocCancel()
}

// run executes actions against the tab, bounded by the given timeout and
// aborted early if the caller's context dies.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.run(ctx, c.timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	c.bumpGeneration()
	return nil
}

func (c *Chrome) Reload(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.run(ctx, c.timeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	c.bumpGeneration()
	return nil
}

func (c *Chrome) bumpGeneration() {
	c.gen++
	c.cardSel = ""
}

func (c *Chrome) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if err := c.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

func (c *Chrome) Cards(ctx context.Context, selector string, limit int) ([]Card, error) {
	js := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).slice(0, %d).map(el => el.outerHTML)`,
		selector, limit,
	)
	var htmls []string
	if err := c.run(ctx, c.timeout, chromedp.Evaluate(js, &htmls)); err != nil {
		return nil, fmt.Errorf("snapshot cards %q: %w", selector, err)
	}
	c.cardSel = selector

	cards := make([]Card, 0, len(htmls))
	for i, h := range htmls {
		// Index refers to the original NodeList position so clicks resolve
		// correctly even when a snapshot is dropped here.
		card, err := NewCard(types.CardRef{Generation: c.gen, Index: i}, h)
		if err != nil {
			c.logger.Warn("dropping unparsable card snapshot", "index", i, "error", err)
			continue
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func (c *Chrome) Text(ctx context.Context, selector string) (string, bool, error) {
	js := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); return el ? {found: true, text: el.innerText} : {found: false, text: ""}; })()`,
		selector,
	)
	var res struct {
		Found bool   `json:"found"`
		Text  string `json:"text"`
	}
	if err := c.run(ctx, c.timeout, chromedp.Evaluate(js, &res)); err != nil {
		return "", false, fmt.Errorf("read text %q: %w", selector, err)
	}
	return normaliseText(res.Text), res.Found, nil
}

func (c *Chrome) Exists(ctx context.Context, selector string) (bool, error) {
	js := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	var found bool
	if err := c.run(ctx, c.timeout, chromedp.Evaluate(js, &found)); err != nil {
		return false, fmt.Errorf("query %q: %w", selector, err)
	}
	return found, nil
}

func (c *Chrome) ClickCard(ctx context.Context, ref types.CardRef, selector, label string) error {
	if ref.Generation != c.gen || c.cardSel == "" {
		return ErrStaleCard
	}
	root := fmt.Sprintf(`document.querySelectorAll(%q)[%d]`, c.cardSel, ref.Index)
	if err := c.clickIn(ctx, root, selector, label); err != nil {
		return fmt.Errorf("click %q in card %d: %w", selector, ref.Index, err)
	}
	return nil
}

func (c *Chrome) Click(ctx context.Context, selector, label string) error {
	if err := c.clickIn(ctx, "document", selector, label); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// clickIn clicks the first match of selector under root, optionally filtered
// by visible-text label. root is a JS expression evaluating to an element.
func (c *Chrome) clickIn(ctx context.Context, root, selector, label string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	js := fmt.Sprintf(`(() => {
		const root = %s;
		if (!root) return false;
		const label = %q.toLowerCase();
		const els = Array.from(root.querySelectorAll(%q));
		const el = label === ""
			? els[0]
			: els.find(e => (e.innerText || "").trim().toLowerCase() === label);
		if (!el) return false;
		el.click();
		return true;
	})()`, root, label, selector)
	var clicked bool
	if err := c.run(ctx, c.timeout, chromedp.Evaluate(js, &clicked)); err != nil {
		return err
	}
	if !clicked {
		return ErrNoElement
	}
	return nil
}

func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := c.run(ctx, c.timeout, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("current url: %w", err)
	}
	return u, nil
}

func (c *Chrome) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Login fills and submits the member login form.
func (c *Chrome) Login(ctx context.Context, loginURL string, creds config.Credentials) error {
	if err := c.Navigate(ctx, loginURL); err != nil {
		return err
	}
	if err := c.WaitVisible(ctx, loginEmailSelector, c.timeout); err != nil {
		return fmt.Errorf("login form: %w", err)
	}
	actions := []chromedp.Action{
		chromedp.SendKeys(loginEmailSelector, creds.Email, chromedp.ByQuery),
		chromedp.SendKeys(loginPasswordSelector, creds.Password, chromedp.ByQuery),
		chromedp.Click(loginSubmitSelector, chromedp.ByQuery),
	}
	if err := c.run(ctx, c.timeout, actions...); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}
	c.bumpGeneration()
	return nil
}

// Cookie is the persistable subset of a browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
}

// ExportCookies captures the browser's cookie jar for persistence.
func (c *Chrome) ExportCookies(ctx context.Context) ([]Cookie, error) {
	var out []Cookie
	err := c.run(ctx, c.timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		out = make([]Cookie, 0, len(cookies))
		for _, ck := range cookies {
			out = append(out, Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("export cookies: %w", err)
	}
	return out, nil
}

// ImportCookies restores a previously exported cookie jar.
func (c *Chrome) ImportCookies(ctx context.Context, cookies []Cookie) error {
	err := c.run(ctx, c.timeout, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			setter := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath(ck.Path).
				WithHTTPOnly(ck.HTTPOnly).
				WithSecure(ck.Secure)
			if ck.Expires > 0 {
				exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				setter = setter.WithExpires(&exp)
			}
			if err := setter.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", ck.Name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("import cookies: %w", err)
	}
	return nil
}
