package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gaultierq/n8n-resamania/internal/browser"
	"github.com/gaultierq/n8n-resamania/internal/extract"
	"github.com/gaultierq/n8n-resamania/internal/match"
	"github.com/gaultierq/n8n-resamania/pkg/types"
)

const (
	// CardSelector locates one class card on the planning page.
	CardSelector = ".activity-card"

	bookButtonSelector    = "button, a"
	confirmButtonSelector = `[role="dialog"] button, .modal button`
	confirmLabel          = "Confirm"
	toastSelector         = `[role="alert"], .toast, .notification`
)

// successCues mark a toast as a booking confirmation. Any other toast text
// is a failure signal.
var successCues = []string{"success", "booked", "confirmed"}

// Runner drives the listing-reload / match / book cycle until one booking
// succeeds or the attempt budget runs out. One run, one page, one slot at a
// time; no booking actions are ever in flight concurrently.
type Runner struct {
	Page      browser.Page
	Extractor *extract.Extractor
	Matcher   *match.Matcher

	MaxAttempts     int
	MaxCards        int
	RetryBackoff    time.Duration
	SettleDelay     time.Duration
	ToastTimeout    time.Duration
	BetweenBookings time.Duration

	Now    func() time.Time
	logger *slog.Logger
}

func NewRunner(page browser.Page, ex *extract.Extractor, m *match.Matcher, logger *slog.Logger) *Runner {
	return &Runner{
		Page:            page,
		Extractor:       ex,
		Matcher:         m,
		MaxAttempts:     15,
		MaxCards:        extract.DefaultMaxCards,
		RetryBackoff:    time.Second,
		SettleDelay:     2 * time.Second,
		ToastTimeout:    5 * time.Second,
		BetweenBookings: 3 * time.Second,
		Now:             time.Now,
		logger:          logger,
	}
}

// Run executes up to MaxAttempts booking attempts against an already
// authenticated page sitting on the planning view. The first attempt reuses
// the current page state; later attempts force a reload because card refs
// from a previous pass are dead.
//
// Exhausting the budget with zero bookings is a normal outcome; only an
// error from the page capability itself aborts the run.
func (r *Runner) Run(ctx context.Context) (types.RunResult, error) {
	start := r.Now()
	result := types.RunResult{}

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if attempt > 1 {
			if err := r.Page.Reload(ctx); err != nil {
				result.Elapsed = r.Now().Sub(start)
				return result, fmt.Errorf("attempt %d: %w", attempt, err)
			}
			if err := r.Page.WaitVisible(ctx, CardSelector, 0); err != nil {
				// No cards after reload reads as an empty listing, which the
				// empty-match branch below already handles.
				r.logger.Debug("cards not visible after reload", "attempt", attempt, "error", err)
			}
		}

		cards, err := r.Page.Cards(ctx, CardSelector, r.MaxCards)
		if err != nil {
			result.Elapsed = r.Now().Sub(start)
			return result, fmt.Errorf("attempt %d: %w", attempt, err)
		}

		slots := r.Extractor.Extract(cards)
		matched := r.Matcher.Match(slots, r.Now())
		r.logger.Info("attempt",
			"n", attempt, "cards", len(cards), "slots", len(slots), "matched", len(matched))

		if len(matched) == 0 {
			// Nothing bookable exists yet. Back off and retry.
			if attempt < r.MaxAttempts {
				if err := r.Page.Sleep(ctx, r.RetryBackoff); err != nil {
					result.Elapsed = r.Now().Sub(start)
					return result, err
				}
			}
			continue
		}

		outcome := r.bookMatched(ctx, matched)
		result.TotalBooked += outcome.Booked + outcome.Unconfirmed
		r.logger.Info("attempt outcome",
			"n", attempt,
			"booked", outcome.Booked,
			"unconfirmed", outcome.Unconfirmed,
			"failed", outcome.Failed,
			"skipped", outcome.Skipped)

		if result.TotalBooked > 0 {
			// One booking is the goal; stop instead of hoovering up every
			// remaining match.
			break
		}

		if attempt < r.MaxAttempts {
			if err := r.Page.Sleep(ctx, r.RetryBackoff); err != nil {
				result.Elapsed = r.Now().Sub(start)
				return result, err
			}
		}
	}

	result.Elapsed = r.Now().Sub(start)
	if result.TotalBooked == 0 {
		r.logger.Warn("retry budget exhausted without a booking", "attempts", result.Attempts)
	}
	return result, nil
}

// bookMatched books the matched slots in sequence. Failures are counted,
// never fatal.
func (r *Runner) bookMatched(ctx context.Context, matched []types.Slot) types.Outcome {
	out := types.Outcome{Considered: len(matched)}
	for i, slot := range matched {
		if i > 0 {
			// Fixed spacing between bookings keeps the site's anti-automation
			// defences quiet.
			_ = r.Page.Sleep(ctx, r.BetweenBookings)
		}
		res := r.bookOne(ctx, slot)
		switch res {
		case types.BookConfirmed:
			out.Booked++
		case types.BookUnconfirmed:
			out.Unconfirmed++
		case types.BookSkipped:
			out.Skipped++
		default:
			out.Failed++
		}
		r.logger.Info("booking result",
			"activity", slot.Activity, "time", slot.TimeText, "result", res.String())
	}
	return out
}

func (r *Runner) bookOne(ctx context.Context, slot types.Slot) types.BookResult {
	if !slot.Bookable || slot.Status == types.StatusFull {
		r.logger.Info("skipping slot",
			"activity", slot.Activity, "status", slot.Status.String(), "bookable", slot.Bookable)
		return types.BookSkipped
	}

	if err := r.Page.ClickCard(ctx, slot.Ref, bookButtonSelector, extract.BookLabel); err != nil {
		// Book action gone: someone else got there first, or the ref went
		// stale under us.
		r.logger.Warn("book action unavailable", "activity", slot.Activity, "error", err)
		return types.BookFailed
	}
	_ = r.Page.Sleep(ctx, r.SettleDelay)

	// Some classes put a confirmation dialog in the way; its absence is not
	// an error.
	if err := r.Page.Click(ctx, confirmButtonSelector, confirmLabel); err == nil {
		_ = r.Page.Sleep(ctx, r.SettleDelay)
	}

	return r.classifyToast(ctx)
}

// classifyToast waits for a transient notification and reads it. No toast at
// all resolves as BookUnconfirmed: the absence of negative feedback is the
// only signal available, so the result is assumed good but kept
// distinguishable from a confirmed one.
func (r *Runner) classifyToast(ctx context.Context) types.BookResult {
	if err := r.Page.WaitVisible(ctx, toastSelector, r.ToastTimeout); err != nil {
		return types.BookUnconfirmed
	}
	text, found, err := r.Page.Text(ctx, toastSelector)
	if err != nil || !found {
		return types.BookUnconfirmed
	}
	lower := strings.ToLower(text)
	for _, cue := range successCues {
		if strings.Contains(lower, cue) {
			return types.BookConfirmed
		}
	}
	r.logger.Warn("booking rejected by site", "toast", text)
	return types.BookFailed
}
