package session

import (
	"context"
	"time"

	"github.com/gaultierq/n8n-resamania/internal/browser"
)

// Snapshot captures an authenticated browser session so a restart does not
// burn a fresh login.
type Snapshot struct {
	Cookies []browser.Cookie `json:"cookies"`
	Email   string           `json:"email"`
	SavedAt time.Time        `json:"saved_at"`
}

// Stale reports whether the snapshot is too old to be worth restoring.
func (s Snapshot) Stale(maxAge time.Duration) bool {
	return maxAge > 0 && time.Since(s.SavedAt) > maxAge
}

// Store persists session snapshots across process restarts.
type Store interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool, error)
	Remove(ctx context.Context) error
	Close() error
}

// Noop is used when no session persistence is configured; every run logs in
// from scratch.
type Noop struct{}

func (Noop) Save(context.Context, Snapshot) error          { return nil }
func (Noop) Load(context.Context) (Snapshot, bool, error)  { return Snapshot{}, false, nil }
func (Noop) Remove(context.Context) error                  { return nil }
func (Noop) Close() error                                  { return nil }
