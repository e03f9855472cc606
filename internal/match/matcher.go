package match

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gaultierq/n8n-resamania/pkg/types"
)

// Matcher filters extracted slots against the configured target classes and
// a booking time window. It holds no mutable state: matching the same input
// twice yields the same output.
type Matcher struct {
	Targets  []types.Target
	MinAhead time.Duration
	MaxAhead time.Duration

	logger *slog.Logger
}

func New(targets []types.Target, minAhead, maxAhead time.Duration, logger *slog.Logger) *Matcher {
	return &Matcher{
		Targets:  targets,
		MinAhead: minAhead,
		MaxAhead: maxAhead,
		logger:   logger,
	}
}

// Match returns the slots satisfying some enabled target AND falling inside
// the closed window [now+MinAhead, now+MaxAhead], in original order. An
// empty result is a normal outcome, not an error.
func (m *Matcher) Match(slots []types.Slot, now time.Time) []types.Slot {
	matched := make([]types.Slot, 0, len(slots))
	for _, slot := range slots {
		if !m.matchesAnyTarget(slot) {
			continue
		}
		if !slot.Resolved() {
			// Never treat an unresolved instant as in-window.
			m.logger.Warn("dropping matched slot without resolved instant",
				"activity", slot.Activity, "date", slot.DateText, "time", slot.TimeText)
			continue
		}
		if !m.inWindow(slot.Starts, now) {
			m.logger.Debug("matched slot outside booking window",
				"activity", slot.Activity, "starts", slot.Starts)
			continue
		}
		matched = append(matched, slot)
	}
	return matched
}

// matchesAnyTarget is existential: any one satisfying target is enough and
// no ranking exists.
func (m *Matcher) matchesAnyTarget(slot types.Slot) bool {
	for _, t := range m.Targets {
		if matches(slot, t) {
			return true
		}
	}
	return false
}

// matches is conjunctive: day and time compare exactly, the activity keyword
// is a case-insensitive substring because class names carry suffixes.
func matches(slot types.Slot, t types.Target) bool {
	if !t.Enabled {
		return false
	}
	if t.Day != slot.Day.String() {
		return false
	}
	if t.Time != slot.TimeText {
		return false
	}
	return strings.Contains(strings.ToLower(slot.Activity), strings.ToLower(t.Activity))
}

func (m *Matcher) inWindow(starts, now time.Time) bool {
	return !starts.Before(now.Add(m.MinAhead)) && !starts.After(now.Add(m.MaxAhead))
}
