// Package extraction pulls a generated image out of an editor page that is
// believed to have finished, trying progressively more indirect strategies.
package extraction

import (
	"context"
	"errors"
)

// ErrNoMatch reports that a stage's precondition did not hold (no affordance,
// no candidate). The protocol falls through to the next stage.
var ErrNoMatch = errors.New("no match")

// Page is the result state of one generation attempt. Selectors are XPath
// expressions.
type Page interface {
	// Visible reports whether selector matches a rendered element.
	Visible(ctx context.Context, selector string) (bool, error)
	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error
	// Download clicks selector and returns the bytes of the download it triggers.
	Download(ctx context.Context, selector string) ([]byte, error)
	// HTML returns the serialized DOM.
	HTML(ctx context.Context) (string, error)
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)
	// Fetch retrieves a resource with the page's session.
	Fetch(ctx context.Context, url string) ([]byte, error)
	// Screenshot returns a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}

// Stage is one extraction strategy.
type Stage interface {
	Name() string
	Extract(ctx context.Context, page Page) ([]byte, error)
}
