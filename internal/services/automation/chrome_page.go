package automation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	launch "github.com/ternarybob/flowqueue/internal/browser"
	"github.com/ternarybob/flowqueue/internal/common"
)

// ChromeOpener launches a browser through a launcher and opens one emulated tab on it
type ChromeOpener struct {
	launcher       launch.Launcher
	viewportWidth  int
	viewportHeight int
	userAgent      string
	timeout        time.Duration
	logger         arbor.ILogger
}

// NewChromeOpener creates the production opener
func NewChromeOpener(launcher launch.Launcher, config *common.BrowserConfig, timeout time.Duration, logger arbor.ILogger) *ChromeOpener {
	return &ChromeOpener{
		launcher:       launcher,
		viewportWidth:  config.ViewportWidth,
		viewportHeight: config.ViewportHeight,
		userAgent:      config.UserAgent,
		timeout:        timeout,
		logger:         logger,
	}
}

// Open launches the browser and prepares its page
func (o *ChromeOpener) Open(ctx context.Context, headless bool) (Page, io.Closer, error) {
	b, err := o.launcher.Launch(ctx, headless)
	if err != nil {
		return nil, nil, err
	}

	page, err := newChromePage(ctx, b, o)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return page, b, nil
}

// chromePage drives one tab through chromedp
type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration

	hostDownloadDir    string
	browserDownloadDir string

	logger arbor.ILogger
}

func newChromePage(ctx context.Context, b *launch.Browser, o *ChromeOpener) (*chromePage, error) {
	tabCtx, cancel := chromedp.NewContext(b.Context())
	hostDir, browserDir := b.DownloadDirs()

	p := &chromePage{
		ctx:                tabCtx,
		cancel:             cancel,
		timeout:            o.timeout,
		hostDownloadDir:    hostDir,
		browserDownloadDir: browserDir,
		logger:             o.logger,
	}

	setup := []chromedp.Action{
		network.Enable(),
		chromedp.EmulateViewport(int64(o.viewportWidth), int64(o.viewportHeight)),
	}
	if o.userAgent != "" {
		setup = append(setup, emulation.SetUserAgentOverride(o.userAgent))
	}

	// The first Run creates the tab and owns its lifetime, so it is watched rather than given a deadline
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(tabCtx, setup...)
	}()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open page: %w", err)
		}
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("page did not open within %s", o.timeout)
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	return p, nil
}

// run executes actions on the tab bounded by timeout and by the caller's ctx
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, p.timeout, chromedp.Navigate(url))
}

func (p *chromePage) WaitReady(ctx context.Context) error {
	if err := p.run(ctx, p.timeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return err
	}

	deadline := time.Now().Add(p.timeout)
	for time.Now().Before(deadline) {
		var state string
		if err := p.run(ctx, p.timeout, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
			return err
		}
		if state == "complete" {
			return nil
		}
		if err := sleep(ctx, 250*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	var ok bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := p.run(ctx, p.timeout, chromedp.Evaluate(script, &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

type lookup struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

func (p *chromePage) Text(ctx context.Context, selector string) (string, bool, error) {
	script := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return { found: false, value: "" };
  return { found: true, value: (el.innerText || el.textContent || "").trim() };
})()`, selector)

	var result lookup
	if err := p.run(ctx, p.timeout, chromedp.Evaluate(script, &result)); err != nil {
		return "", false, err
	}
	return result.Value, result.Found, nil
}

func (p *chromePage) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	script := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return { found: false, value: "" };
  const attr = el.getAttribute(%q);
  const prop = el[%q];
  const value = attr !== null ? attr : (typeof prop === "string" ? prop : "");
  return { found: true, value: value };
})()`, selector, name, name)

	var result lookup
	if err := p.run(ctx, p.timeout, chromedp.Evaluate(script, &result)); err != nil {
		return "", false, err
	}
	return result.Value, result.Found, nil
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx, p.timeout,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, p.timeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Download arms a download listener before clicking so a fast download is not missed
func (p *chromePage) Download(ctx context.Context, selector string, timeout time.Duration) (string, error) {
	exists, err := p.Exists(ctx, selector)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrDownloadControlNotFound
	}

	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()

	completed := make(chan string, 1)
	canceled := make(chan struct{}, 1)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		progress, ok := ev.(*browser.EventDownloadProgress)
		if !ok {
			return
		}
		switch progress.State {
		case browser.DownloadProgressStateCompleted:
			select {
			case completed <- progress.GUID:
			default:
			}
		case browser.DownloadProgressStateCanceled:
			select {
			case canceled <- struct{}{}:
			default:
			}
		}
	})

	err = p.run(ctx, p.timeout,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(p.browserDownloadDir).
			WithEventsEnabled(true),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start download: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case guid := <-completed:
		// AllowAndName saves the payload under its GUID
		return filepath.Join(p.hostDownloadDir, guid), nil
	case <-canceled:
		return "", errors.New("download canceled by browser")
	case <-timer.C:
		return "", ErrDownloadTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	if len(cookies) == 0 {
		return nil
	}
	return p.run(ctx, p.timeout, network.SetCookies(cookies))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, p.timeout, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, p.timeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
