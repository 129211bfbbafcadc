package automation

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/chromedp/cdproto/network"
)

// SnapshotPage evaluates selectors against a static HTML document.
// It backs selector diagnostics against saved pages; it never runs scripts or performs downloads.
type SnapshotPage struct {
	mu      sync.Mutex
	doc     *goquery.Document
	url     string
	clicks  []string
	cookies []*network.CookieParam
}

// NewSnapshotPage parses an HTML document captured from url
func NewSnapshotPage(r io.Reader, url string) (*SnapshotPage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML snapshot: %w", err)
	}
	return &SnapshotPage{doc: doc, url: url}, nil
}

// NewSnapshotPageFromString parses an in-memory HTML document
func NewSnapshotPageFromString(html, url string) (*SnapshotPage, error) {
	return NewSnapshotPage(strings.NewReader(html), url)
}

func (p *SnapshotPage) find(selector string) (*goquery.Selection, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, fmt.Errorf("empty selector")
	}
	// goquery silently matches nothing for selectors it cannot compile
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return p.doc.FindMatcher(matcher), nil
}

func (p *SnapshotPage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *SnapshotPage) WaitReady(ctx context.Context) error {
	return ctx.Err()
}

func (p *SnapshotPage) Exists(ctx context.Context, selector string) (bool, error) {
	sel, err := p.find(selector)
	if err != nil {
		return false, err
	}
	return sel.Length() > 0, nil
}

// Count returns the number of elements matching selector
func (p *SnapshotPage) Count(selector string) (int, error) {
	sel, err := p.find(selector)
	if err != nil {
		return 0, err
	}
	return sel.Length(), nil
}

func (p *SnapshotPage) Text(ctx context.Context, selector string) (string, bool, error) {
	sel, err := p.find(selector)
	if err != nil {
		return "", false, err
	}
	if sel.Length() == 0 {
		return "", false, nil
	}
	return strings.TrimSpace(sel.First().Text()), true, nil
}

func (p *SnapshotPage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	sel, err := p.find(selector)
	if err != nil {
		return "", false, err
	}
	if sel.Length() == 0 {
		return "", false, nil
	}
	value, _ := sel.First().Attr(name)
	return value, true, nil
}

// WaitVisible reports immediately: a static document never changes
func (p *SnapshotPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	ok, err := p.Exists(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no element matches %s", selector)
	}
	return nil
}

func (p *SnapshotPage) Fill(ctx context.Context, selector, value string) error {
	sel, err := p.find(selector)
	if err != nil {
		return err
	}
	if sel.Length() == 0 {
		return fmt.Errorf("no element matches %s", selector)
	}
	first := sel.First()
	if goquery.NodeName(first) == "textarea" {
		first.SetText(value)
	} else {
		first.SetAttr("value", value)
	}
	return nil
}

func (p *SnapshotPage) Click(ctx context.Context, selector string) error {
	ok, err := p.Exists(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no element matches %s", selector)
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	p.mu.Unlock()
	return nil
}

// Clicks returns the selectors clicked so far
func (p *SnapshotPage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *SnapshotPage) Download(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	return "", ErrUnsupported
}

func (p *SnapshotPage) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
	return nil
}

// Cookies returns the cookies set on the page
func (p *SnapshotPage) Cookies() []*network.CookieParam {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*network.CookieParam(nil), p.cookies...)
}

func (p *SnapshotPage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *SnapshotPage) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, ErrUnsupported
}

func (p *SnapshotPage) Close() error {
	return nil
}

// SelectorReport is the match result for one configured selector
type SelectorReport struct {
	NamedSelector
	Matches int    `json:"matches"`
	Error   string `json:"error,omitempty"`
}

// CheckSelectors reports how many elements every configured selector matches in a snapshot
func CheckSelectors(page *SnapshotPage, selectors Selectors) []SelectorReport {
	named := selectors.Named()
	reports := make([]SelectorReport, 0, len(named))
	for _, n := range named {
		report := SelectorReport{NamedSelector: n}
		count, err := page.Count(n.Selector)
		if err != nil {
			report.Error = err.Error()
		} else {
			report.Matches = count
		}
		reports = append(reports, report)
	}
	return reports
}
