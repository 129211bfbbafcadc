package automation

import (
	"context"
	"io"
	"time"

	"github.com/chromedp/cdproto/network"
)

// Page is one browser tab as seen by the session.
// Selectors are CSS selectors; every method is bounded by ctx and the page's own timeouts.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitReady waits for the document to finish loading
	WaitReady(ctx context.Context) error
	Exists(ctx context.Context, selector string) (bool, error)
	// Text returns the text content of the first match, or found=false
	Text(ctx context.Context, selector string) (text string, found bool, err error)
	// Attribute returns an attribute (or same-named property) of the first match
	Attribute(ctx context.Context, selector, name string) (value string, found bool, err error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Fill replaces the content of an input with value
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// Download clicks selector and returns the local path of the completed download
	Download(ctx context.Context, selector string, timeout time.Duration) (string, error)
	SetCookies(ctx context.Context, cookies []*network.CookieParam) error
	URL(ctx context.Context) (string, error)
	// Screenshot returns a PNG of the viewport
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Opener launches a browser and opens the session's page on it.
// The returned closer releases the browser; Page.Close only closes the tab.
type Opener interface {
	Open(ctx context.Context, headless bool) (Page, io.Closer, error)
}
