package session

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

const maxPingBody = 1 << 20 // 1MB is plenty for a liveness read

// Pinger keeps the saved session warm by periodically hitting the site with
// the persisted cookies, and flags the session as expired when the response
// looks like a login page.
type Pinger struct {
	URL       string
	UserAgent string
	Interval  time.Duration

	store  Store
	client *http.Client
	logger *slog.Logger
}

func NewPinger(url string, interval time.Duration, store Store, logger *slog.Logger) *Pinger {
	return &Pinger{
		URL:      url,
		Interval: interval,
		store:    store,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

// Run pings until the context dies. Errors are logged, never fatal: the
// worst case is a session that expires and forces a fresh login.
func (p *Pinger) Run(ctx context.Context) {
	if p.Interval <= 0 {
		return
	}
	t := time.NewTicker(p.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.ping(ctx); err != nil {
				p.logger.Warn("session ping failed", "error", err)
			}
		}
	}
}

func (p *Pinger) ping(ctx context.Context) error {
	snap, found, err := p.store.Load(ctx)
	if err != nil {
		return err
	}
	if !found || len(snap.Cookies) == 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	for _, ck := range snap.Cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("ping status %d", resp.StatusCode)
	}
	if looksLoggedOut(body) {
		p.logger.Warn("saved session looks expired, removing snapshot")
		return p.store.Remove(ctx)
	}
	p.logger.Debug("session ping ok", "status", resp.StatusCode)
	return nil
}

func readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	reader := io.Reader(resp.Body)
	closers := []io.Closer{resp.Body}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(reader, maxPingBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// looksLoggedOut sniffs the response for a password field, which only the
// login page renders.
func looksLoggedOut(body []byte) bool {
	return strings.Contains(strings.ToLower(string(body)), `type="password"`)
}
