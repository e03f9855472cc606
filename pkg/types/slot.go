package types

import (
	"fmt"
	"strings"
	"time"
)

// Status classifies the enrollment state of a class slot as rendered on the
// listing page. The zero value is StatusAvailable.
type Status int

const (
	StatusAvailable Status = iota
	StatusAvailableCount
	StatusFull
	StatusSignedUp
	StatusWaitlisted
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusAvailableCount:
		return "available_count"
	case StatusFull:
		return "full"
	case StatusSignedUp:
		return "signed_up"
	case StatusWaitlisted:
		return "waitlisted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Weekday mirrors time.Weekday with an explicit unknown sentinel for cards
// whose text never names a day.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
	WeekdayUnknown
)

var weekdayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// WeekdayNames returns the canonical seven day names, Monday first.
func WeekdayNames() []string {
	return weekdayNames[:]
}

func (w Weekday) String() string {
	if w >= Monday && w <= Sunday {
		return weekdayNames[w]
	}
	return "Unknown"
}

// Known reports whether the weekday was actually derived from card text.
func (w Weekday) Known() bool {
	return w >= Monday && w <= Sunday
}

// ParseWeekday matches a day name case-insensitively. Returns WeekdayUnknown
// on no match.
func ParseWeekday(s string) Weekday {
	for i, name := range weekdayNames {
		if strings.EqualFold(s, name) {
			return Weekday(i)
		}
	}
	return WeekdayUnknown
}

// FromTime converts a time.Weekday (Sunday-first) to the Monday-first Weekday.
func FromTime(w time.Weekday) Weekday {
	if w == time.Sunday {
		return Sunday
	}
	return Weekday(int(w) - 1)
}

// TimeWeekday converts back to the stdlib Sunday-first convention.
func (w Weekday) TimeWeekday() time.Weekday {
	if w == Sunday {
		return time.Sunday
	}
	return time.Weekday(int(w) + 1)
}

// Slot is one class occurrence extracted from a listing card. Slots are built
// fresh on every extraction pass and discarded at the end of it; they are
// never cached or merged across attempts.
type Slot struct {
	Activity string
	DateText string // raw date fragment as rendered, "Unknown" if absent
	TimeText string // raw "HH:MM" fragment, "Unknown" if absent
	Day      Weekday
	Status   Status
	// Remaining holds n for StatusAvailableCount, 0 otherwise.
	Remaining int
	// Bookable is true only when a Book action was detected scoped to this
	// card. Bookable implies Status != StatusFull.
	Bookable bool

	// Starts is the resolved absolute start instant; zero when the date or
	// time text could not be interpreted. Strategy records how it was
	// inferred so disagreeing heuristics stay observable in logs.
	Starts   time.Time
	Strategy string

	// Ref points back at the originating card in the live page. Valid only
	// for the page state the slot was extracted from; it dies on reload.
	// Never used for identity.
	Ref CardRef
}

// Resolved reports whether the slot carries a usable absolute instant.
func (s Slot) Resolved() bool {
	return !s.Starts.IsZero()
}

// CardRef is an index token into one extraction pass of the live page. The
// generation is bumped on every navigation or reload, so a stale ref can be
// rejected by value instead of by convention.
type CardRef struct {
	Generation uint64
	Index      int
}

// Target is one user-configured booking rule. The list is loaded once per run
// and never mutated; ordering is irrelevant because matching is existential.
type Target struct {
	Day      string `yaml:"day"`
	Time     string `yaml:"time"`
	Activity string `yaml:"activity"`
	Duration int    `yaml:"duration_minutes"`
	Enabled  bool   `yaml:"enabled"`
}

// BookResult classifies a single booking action.
type BookResult int

const (
	BookFailed BookResult = iota
	BookConfirmed
	// BookUnconfirmed means no toast appeared within the wait window. The
	// site gave no negative signal, so the attempt is treated as a success,
	// but the lower confidence is kept visible to callers.
	BookUnconfirmed
	BookSkipped
)

func (r BookResult) String() string {
	switch r {
	case BookConfirmed:
		return "confirmed"
	case BookUnconfirmed:
		return "unconfirmed"
	case BookSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Booked reports whether the action counts as a success for the retry loop.
func (r BookResult) Booked() bool {
	return r == BookConfirmed || r == BookUnconfirmed
}

// Outcome tallies one booking attempt over the matched slots. Skipped slots
// are counted separately from failures.
type Outcome struct {
	Booked      int
	Unconfirmed int
	Failed      int
	Skipped     int
	Considered  int
}

// RunResult summarises one invocation of the retry loop.
type RunResult struct {
	Attempts    int
	Elapsed     time.Duration
	TotalBooked int
}
