package extract

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaultierq/n8n-resamania/internal/browser"
	"github.com/gaultierq/n8n-resamania/pkg/types"
)

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	e := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.Now = func() time.Time { return resolveNow }
	return e
}

func mustCard(t *testing.T, index int, html string) browser.Card {
	t.Helper()
	card, err := browser.NewCard(types.CardRef{Generation: 1, Index: index}, html)
	require.NoError(t, err)
	return card
}

func TestExtractFullCard(t *testing.T) {
	card := mustCard(t, 0, `<div class="activity-card">
		<h2>CAF Pump</h2>
		<h3>18:30</h3>
		<p>Friday 23 January</p>
		<p>4 remaining places</p>
		<button>Book</button>
	</div>`)

	slots := testExtractor(t).Extract([]browser.Card{card})
	require.Len(t, slots, 1)

	slot := slots[0]
	assert.Equal(t, "CAF Pump", slot.Activity)
	assert.Equal(t, "18:30", slot.TimeText)
	assert.Equal(t, "Friday 23 January", slot.DateText)
	assert.Equal(t, types.Friday, slot.Day)
	assert.Equal(t, types.StatusAvailableCount, slot.Status)
	assert.Equal(t, 4, slot.Remaining)
	assert.True(t, slot.Bookable)
	assert.Equal(t, string(StrategyMonth), slot.Strategy)
	assert.Equal(t, time.Date(2026, time.January, 23, 18, 30, 0, 0, time.UTC), slot.Starts)
	assert.Equal(t, types.CardRef{Generation: 1, Index: 0}, slot.Ref)
}

func TestStatusPriority(t *testing.T) {
	tests := []struct {
		name      string
		cue       string
		status    types.Status
		remaining int
	}{
		{"signed up beats full", "Signed up Full", types.StatusSignedUp, 0},
		{"full beats remaining count", "Full 3 remaining places", types.StatusFull, 0},
		{"waiting list", "On the waiting list", types.StatusWaitlisted, 0},
		{"remaining count", "3 remaining places", types.StatusAvailableCount, 3},
		{"no cue defaults to available", "See details", types.StatusAvailable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := mustCard(t, 0, fmt.Sprintf(
				`<div><h2>Yoga</h2><h3>10:00</h3><p>Monday 19 January</p><p>%s</p><button>Book</button></div>`,
				tt.cue))
			slots := testExtractor(t).Extract([]browser.Card{card})
			require.Len(t, slots, 1)
			assert.Equal(t, tt.status, slots[0].Status)
			assert.Equal(t, tt.remaining, slots[0].Remaining)
		})
	}
}

func TestStatusCuesAreCaseSensitive(t *testing.T) {
	// Lowercase "full" appears in ordinary prose ("full body workout") and
	// must not read as a status cue.
	card := mustCard(t, 0,
		`<div><h2>Deep stretch full body</h2><h3>10:00</h3><p>Monday 19 January</p><button>Book</button></div>`)
	slots := testExtractor(t).Extract([]browser.Card{card})
	require.Len(t, slots, 1)
	assert.Equal(t, types.StatusAvailable, slots[0].Status)
	assert.True(t, slots[0].Bookable)
}

func TestFullSlotIsNeverBookable(t *testing.T) {
	// The Book button may still be rendered on a full card; status wins.
	card := mustCard(t, 0,
		`<div><h2>Yoga</h2><h3>10:00</h3><p>Monday 19 January</p><p>Full</p><button>Book</button></div>`)
	slots := testExtractor(t).Extract([]browser.Card{card})
	require.Len(t, slots, 1)
	assert.Equal(t, types.StatusFull, slots[0].Status)
	assert.False(t, slots[0].Bookable)
}

func TestBookActionScopedToCard(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		bookable bool
	}{
		{
			name:     "button labelled Book",
			html:     `<div><h2>Yoga</h2><h3>10:00</h3><p>Monday 19 January</p><button>Book</button></div>`,
			bookable: true,
		},
		{
			name:     "anchor labelled Book",
			html:     `<div><h2>Yoga</h2><h3>10:00</h3><p>Monday 19 January</p><a href="#">Book</a></div>`,
			bookable: true,
		},
		{
			name:     "already booked label does not count",
			html:     `<div><h2>Yoga</h2><h3>10:00</h3><p>Monday 19 January</p><button>Booked</button></div>`,
			bookable: false,
		},
		{
			name:     "label with suffix does not count",
			html:     `<div><h2>Yoga</h2><h3>10:00</h3><p>Monday 19 January</p><button>Book now</button></div>`,
			bookable: false,
		},
		{
			name:     "casing is irrelevant",
			html:     `<div><h2>Yoga</h2><h3>10:00</h3><p>Monday 19 January</p><button>BOOK</button></div>`,
			bookable: true,
		},
		{
			name:     "other label does not count",
			html:     `<div><h2>Yoga</h2><h3>10:00</h3><p>Monday 19 January</p><button>Details</button></div>`,
			bookable: false,
		},
		{
			name:     "no action at all",
			html:     `<div><h2>Yoga</h2><h3>10:00</h3><p>Monday 19 January</p></div>`,
			bookable: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots := testExtractor(t).Extract([]browser.Card{mustCard(t, 0, tt.html)})
			require.Len(t, slots, 1)
			assert.Equal(t, tt.bookable, slots[0].Bookable)
		})
	}
}

func TestSkipsCardWithoutHeading(t *testing.T) {
	cards := []browser.Card{
		mustCard(t, 0, `<div><p>decorative banner</p></div>`),
		mustCard(t, 1, `<div><h2>Yoga</h2><h3>10:00</h3><p>Monday 19 January</p><button>Book</button></div>`),
	}
	slots := testExtractor(t).Extract(cards)
	require.Len(t, slots, 1)
	assert.Equal(t, "Yoga", slots[0].Activity)
	assert.Equal(t, 1, slots[0].Ref.Index)
}

func TestMissingTimeHeadingStaysUnresolved(t *testing.T) {
	card := mustCard(t, 0, `<div><h2>Yoga</h2><p>Monday 19 January</p><button>Book</button></div>`)
	slots := testExtractor(t).Extract([]browser.Card{card})
	require.Len(t, slots, 1)
	assert.Equal(t, "Unknown", slots[0].TimeText)
	assert.False(t, slots[0].Resolved())
	// The slot survives extraction; matching drops it later.
	assert.True(t, slots[0].Bookable)
}

func TestDaySignalPrefersAdjacentDigit(t *testing.T) {
	// A stray day mention elsewhere in the card must not beat the day name
	// sitting next to the day number.
	card := mustCard(t, 0,
		`<div><h2>Yoga</h2><h3>10:00</h3><p>no class Sunday</p><p>Monday 19</p><button>Book</button></div>`)
	slots := testExtractor(t).Extract([]browser.Card{card})
	require.Len(t, slots, 1)
	assert.Equal(t, types.Monday, slots[0].Day)
	assert.Equal(t, time.Date(2026, time.January, 19, 10, 0, 0, 0, time.UTC), slots[0].Starts)
	assert.Equal(t, string(StrategyWeekday), slots[0].Strategy)
}

func TestMaxCardsTruncation(t *testing.T) {
	var cards []browser.Card
	for i := 0; i < 5; i++ {
		cards = append(cards, mustCard(t, i,
			`<div><h2>Yoga</h2><h3>10:00</h3><p>Monday 19 January</p><button>Book</button></div>`))
	}
	e := testExtractor(t)
	e.MaxCards = 2
	slots := e.Extract(cards)
	assert.Len(t, slots, 2)
}
