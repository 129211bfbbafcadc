package automation

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// fakeElement describes one element present on the fake page
type fakeElement struct {
	text  string
	attrs map[string]string
}

// fakePage is a scripted Page. static elements are always present; frames replace the poll
// indicators, advancing by one each time the error indicator is checked.
type fakePage struct {
	mu sync.Mutex

	errorSelector string
	static        map[string]fakeElement
	frames        []map[string]fakeElement
	polls         int
	current       int

	url         string
	navigateErr error
	filled      map[string]string
	clicks      []string
	cookies     []*network.CookieParam
	downloadDir string
	downloadErr error
	closeErr    error
	closed      int
}

func newFakePage(errorSelector string) *fakePage {
	return &fakePage{
		errorSelector: errorSelector,
		static:        map[string]fakeElement{},
		filled:        map[string]string{},
		url:           "https://labs.google/fx/flow",
	}
}

func (p *fakePage) lookup(selector string) (fakeElement, bool) {
	if len(p.frames) > 0 {
		frame := p.frames[p.current]
		if el, ok := frame[selector]; ok {
			return el, true
		}
	}
	el, ok := p.static[selector]
	return el, ok
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navigateErr != nil {
		return p.navigateErr
	}
	p.url = url
	return nil
}

func (p *fakePage) WaitReady(ctx context.Context) error { return nil }

func (p *fakePage) Exists(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.lookup(selector)
	return ok, nil
}

func (p *fakePage) Text(ctx context.Context, selector string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if selector == p.errorSelector && len(p.frames) > 0 {
		p.current = p.polls
		if p.current >= len(p.frames) {
			p.current = len(p.frames) - 1
		}
		p.polls++
	}
	el, ok := p.lookup(selector)
	return el.text, ok, nil
}

func (p *fakePage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.lookup(selector)
	if !ok {
		return "", false, nil
	}
	return el.attrs[name], true, nil
}

func (p *fakePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	_, ok := p.lookup(selector)
	p.mu.Unlock()
	if ok {
		return nil
	}
	select {
	case <-time.After(timeout):
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePage) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filled[selector] = value
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *fakePage) Download(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	if p.downloadErr != nil {
		return "", p.downloadErr
	}
	path := filepath.Join(p.downloadDir, "5f0c1a9e-guid")
	if err := os.WriteFile(path, []byte("mp4-bytes"), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (p *fakePage) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG"), nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return p.closeErr
}

type fakeCloser struct {
	closed int
	err    error
}

func (c *fakeCloser) Close() error {
	c.closed++
	return c.err
}

type fakeOpener struct {
	pages   []*fakePage
	closers []*fakeCloser
	err     error
	opened  int
}

func (o *fakeOpener) Open(ctx context.Context, headless bool) (Page, io.Closer, error) {
	if o.err != nil {
		return nil, nil, o.err
	}
	if o.opened >= len(o.pages) {
		return nil, nil, errors.New("no more fake pages")
	}
	page := o.pages[o.opened]
	closer := &fakeCloser{}
	o.closers = append(o.closers, closer)
	o.opened++
	return page, closer, nil
}

type openerFunc func() Page

func (f openerFunc) Open(ctx context.Context, headless bool) (Page, io.Closer, error) {
	return f(), &fakeCloser{}, nil
}
