package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gaultierq/n8n-resamania/pkg/types"
)

// Strategy names how an absolute instant was inferred from fragmentary text.
// The listing never prints a year and sometimes omits the month, so the
// competing heuristics must stay observable instead of being silently picked.
type Strategy string

const (
	// StrategyMonth had a full day+month and only inferred the year.
	StrategyMonth Strategy = "month"
	// StrategyWeekday projected the next future occurrence of the derived
	// weekday, cross-checked against the day number when one was present.
	StrategyWeekday Strategy = "weekday"
	// StrategyDayOfMonth had only a day number and assumed the current
	// month, rolling one month forward when that lands in the past.
	StrategyDayOfMonth Strategy = "day_of_month"
)

// AmbiguousDateError reports a fragment that no strategy could interpret.
type AmbiguousDateError struct {
	DateText string
	TimeText string
}

func (e *AmbiguousDateError) Error() string {
	return fmt.Sprintf("ambiguous date %q at %q", e.DateText, e.TimeText)
}

// Resolution is the outcome of one date inference.
type Resolution struct {
	Starts   time.Time
	Strategy Strategy
	// Inconsistent is set when the weekday projection and the printed day
	// number disagreed and the result was advanced by one week.
	Inconsistent bool
}

var clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ResolveInstant infers the absolute start of a slot relative to now.
// dateText is the raw fragment (a full day/number/month triple or the
// unknown sentinel); day and dayNum carry the independently derived weekday
// and day number for the fragment-less fallbacks, dayNum zero when absent.
// Pure: same inputs, same output.
func ResolveInstant(dateText string, day types.Weekday, dayNum int, timeText string, now time.Time) (Resolution, error) {
	hour, minute, ok := parseClock(timeText)
	if !ok {
		return Resolution{}, &AmbiguousDateError{DateText: dateText, TimeText: timeText}
	}

	if m := dateTripleRe.FindStringSubmatch(dateText); m != nil {
		monthDay, _ := strconv.Atoi(m[2])
		month, ok := parseMonth(m[3])
		if !ok {
			return Resolution{}, &AmbiguousDateError{DateText: dateText, TimeText: timeText}
		}
		candidate := time.Date(now.Year(), month, monthDay, hour, minute, 0, 0, now.Location())
		if candidate.Before(now) {
			// A past instant means the class sits across the year boundary,
			// eg. booking a December 2 class in January.
			candidate = candidate.AddDate(1, 0, 0)
		}
		return Resolution{Starts: candidate, Strategy: StrategyMonth}, nil
	}

	hasDayNum := dayNum >= 1 && dayNum <= 31

	if day.Known() {
		ahead := (int(day.TimeWeekday()) - int(now.Weekday()) + 7) % 7
		candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()).
			AddDate(0, 0, ahead)
		if ahead == 0 && candidate.Before(now) {
			candidate = candidate.AddDate(0, 0, 7)
		}
		res := Resolution{Starts: candidate, Strategy: StrategyWeekday}
		if hasDayNum && candidate.Day() != dayNum {
			// Two independent signals disagree; trust the weekday and assume
			// the slot is one week further out rather than failing outright.
			res.Starts = candidate.AddDate(0, 0, 7)
			res.Inconsistent = true
		}
		return res, nil
	}

	if hasDayNum {
		candidate := time.Date(now.Year(), now.Month(), dayNum, hour, minute, 0, 0, now.Location())
		if candidate.Before(now) {
			candidate = candidate.AddDate(0, 1, 0)
		}
		return Resolution{Starts: candidate, Strategy: StrategyDayOfMonth}, nil
	}

	return Resolution{}, &AmbiguousDateError{DateText: dateText, TimeText: timeText}
}

func parseClock(s string) (hour, minute int, ok bool) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

func parseMonth(name string) (time.Month, bool) {
	for i, m := range monthNames {
		if strings.EqualFold(name, m) {
			return time.Month(i + 1), true
		}
	}
	return 0, false
}
