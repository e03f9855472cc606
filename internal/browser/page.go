package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/gaultierq/n8n-resamania/pkg/types"
)

// ErrStaleCard is returned when a card reference from a previous page
// generation is used after a navigation or reload.
var ErrStaleCard = errors.New("card reference is stale")

// ErrNoElement is returned when a scoped element expected on the live page
// is not there (eg. a Book button already consumed by someone else).
var ErrNoElement = errors.New("element not found")

// Page is the capability the booking core consumes. One Page is one browser
// tab; all operations are sequential.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// Cards snapshots up to limit elements matching selector, in DOM order.
	// The returned refs stay valid until the next Navigate or Reload.
	Cards(ctx context.Context, selector string, limit int) ([]Card, error)

	// Text reads the visible text of the first page-level match. The second
	// return is false when no element matches.
	Text(ctx context.Context, selector string) (string, bool, error)
	Exists(ctx context.Context, selector string) (bool, error)

	// ClickCard clicks the first element matching selector inside the card
	// the ref points at; when label is non-empty only elements whose visible
	// text equals it (case-insensitively) qualify, the same predicate the
	// extractor uses to detect the affordance. Fails with ErrStaleCard after
	// a reload and with ErrNoElement when the target is gone.
	ClickCard(ctx context.Context, ref types.CardRef, selector, label string) error

	// Click is the page-scoped variant, used for elements outside any card
	// such as confirmation dialogs.
	Click(ctx context.Context, selector, label string) error

	CurrentURL(ctx context.Context) (string, error)
	Sleep(ctx context.Context, d time.Duration) error
}

// Card is a one-shot snapshot of a listing card. The text and DOM tree are
// captured in a single read so derived fields cannot disagree; only clicks
// go back to the live page, through the ref.
type Card struct {
	ref  types.CardRef
	text string
	sel  *goquery.Selection
}

// NewCard parses the outer HTML of one card element.
func NewCard(ref types.CardRef, outerHTML string) (Card, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(outerHTML))
	if err != nil {
		return Card{}, fmt.Errorf("parse card %d: %w", ref.Index, err)
	}
	root := doc.Find("body").Children().First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	return Card{
		ref:  ref,
		text: normaliseText(doc.Text()),
		sel:  root,
	}, nil
}

// Ref returns the live-page token for this card.
func (c Card) Ref() types.CardRef { return c.ref }

// Text returns the full visible text of the card, whitespace-collapsed.
func (c Card) Text() string { return c.text }

// Find queries the card snapshot, never the live page.
func (c Card) Find(selector string) *goquery.Selection {
	return c.sel.Find(selector)
}

func normaliseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
