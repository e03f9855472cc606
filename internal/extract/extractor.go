package extract

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/gaultierq/n8n-resamania/internal/browser"
	"github.com/gaultierq/n8n-resamania/pkg/types"
)

// BookLabel is the visible text of the booking affordance inside a card.
// The booking runner clicks the same label the extractor detects.
const BookLabel = "Book"

// DefaultMaxCards bounds one extraction pass against runaway DOM size.
const DefaultMaxCards = 50

const headingSelector = "h1, h2, h3, h4, h5, h6"

var monthNames = [...]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

var (
	dayAlt   = strings.Join(types.WeekdayNames(), "|")
	monthAlt = strings.Join(monthNames[:], "|")

	// "<DayName> <1-2 digit day> <MonthName>", case-insensitive.
	dateTripleRe = regexp.MustCompile(`(?i)\b(` + dayAlt + `)\s+(\d{1,2})\s+(` + monthAlt + `)\b`)

	// Day name immediately followed by a digit sequence. Preferring this over
	// a bare substring hit avoids stray mentions like "closed Mondays".
	dayDigitRe = regexp.MustCompile(`(?i)\b(` + dayAlt + `)\b\W{0,3}(\d{1,2})\b`)

	remainingRe = regexp.MustCompile(`(\d+)\s+remaining place`)
)

// Extractor turns listing cards into normalized slot records. One extraction
// pass per retry attempt; records never outlive the pass.
type Extractor struct {
	MaxCards int
	Now      func() time.Time

	logger *slog.Logger
}

func New(logger *slog.Logger) *Extractor {
	return &Extractor{
		MaxCards: DefaultMaxCards,
		Now:      time.Now,
		logger:   logger,
	}
}

// Extract produces one slot per parsable card, preserving DOM order. Cards
// that cannot yield at least an activity name are skipped, never aborting
// the pass.
func (e *Extractor) Extract(cards []browser.Card) []types.Slot {
	if max := e.MaxCards; max > 0 && len(cards) > max {
		e.logger.Warn("truncating card list", "cards", len(cards), "max", max)
		cards = cards[:max]
	}

	slots := make([]types.Slot, 0, len(cards))
	for _, card := range cards {
		slot, ok := e.extractOne(card)
		if !ok {
			continue
		}
		slots = append(slots, slot)
	}
	return slots
}

func (e *Extractor) extractOne(card browser.Card) (types.Slot, bool) {
	// Every text-derived field comes from this one read so repeated queries
	// against a changing DOM cannot disagree with each other.
	text := card.Text()

	headings := card.Find(headingSelector)
	activity := headingText(headings, 0)
	if activity == "" {
		e.logger.Debug("skipping card without heading", "ref", card.Ref().Index)
		return types.Slot{}, false
	}
	timeText := headingText(headings, 1)
	if timeText == "" {
		timeText = "Unknown"
	}

	status, remaining := classifyStatus(text)

	dateText := "Unknown"
	if m := dateTripleRe.FindString(text); m != "" {
		dateText = m
	}

	day, dayNum := deriveDaySignals(text)

	slot := types.Slot{
		Activity:  activity,
		DateText:  dateText,
		TimeText:  timeText,
		Day:       day,
		Status:    status,
		Remaining: remaining,
		Bookable:  status != types.StatusFull && hasBookAction(card),
		Ref:       card.Ref(),
	}

	res, err := ResolveInstant(dateText, day, dayNum, timeText, e.Now())
	if err != nil {
		e.logger.Debug("slot instant unresolved",
			"activity", activity, "date", dateText, "time", timeText, "error", err)
		return slot, true
	}
	if res.Inconsistent {
		e.logger.Warn("weekday and day number disagree, advanced one week",
			"activity", activity, "date", dateText, "resolved", res.Starts)
	}
	slot.Starts = res.Starts
	slot.Strategy = string(res.Strategy)
	return slot, true
}

func headingText(headings *goquery.Selection, i int) string {
	if headings.Length() <= i {
		return ""
	}
	return strings.Join(strings.Fields(headings.Eq(i).Text()), " ")
}

// classifyStatus applies a strict priority chain; a card can carry several
// cues at once and the first match must win.
func classifyStatus(text string) (types.Status, int) {
	switch {
	case strings.Contains(text, "Signed up"):
		return types.StatusSignedUp, 0
	case strings.Contains(text, "Full"):
		return types.StatusFull, 0
	case strings.Contains(text, "waiting list"):
		return types.StatusWaitlisted, 0
	}
	if m := remainingRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return types.StatusAvailableCount, n
		}
	}
	return types.StatusAvailable, 0
}

// deriveDaySignals prefers a day name adjacent to a digit sequence, falling
// back to a plain substring search over the seven day names. The day number
// is only trusted when it sat next to the day name.
func deriveDaySignals(text string) (types.Weekday, int) {
	if m := dayDigitRe.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[2])
		return types.ParseWeekday(m[1]), n
	}
	lower := strings.ToLower(text)
	for _, name := range types.WeekdayNames() {
		if strings.Contains(lower, strings.ToLower(name)) {
			return types.ParseWeekday(name), 0
		}
	}
	return types.WeekdayUnknown, 0
}

// hasBookAction reports whether a Book affordance exists inside this card.
// The search is scoped to the card snapshot so a button from a neighbouring
// card cannot leak a false positive.
func hasBookAction(card browser.Card) bool {
	found := false
	card.Find("button, a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.EqualFold(strings.TrimSpace(s.Text()), BookLabel) {
			found = true
			return false
		}
		return true
	})
	return found
}
