package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
)

// Launcher starts a browser ready for automation
type Launcher interface {
	Launch(ctx context.Context, headless bool) (*Browser, error)
	// Close releases launcher-wide resources such as the docker client
	Close() error
}

// NewLauncher returns the launcher for the configured browser mode
func NewLauncher(config *common.BrowserConfig, logger arbor.ILogger) (Launcher, error) {
	switch config.Mode {
	case "", "local":
		return NewExecLauncher(config, logger), nil
	case "docker":
		return NewDockerLauncher(config, logger)
	default:
		return nil, fmt.Errorf("unsupported browser mode: %s", config.Mode)
	}
}

// Browser is a running browser process (local or containerized) with its root chromedp context
type Browser struct {
	ctx             context.Context
	cancelBrowser   context.CancelFunc
	cancelAllocator context.CancelFunc
	cleanup         func(ctx context.Context) error

	hostDownloadDir    string // Where finished downloads appear on this machine
	browserDownloadDir string // The same directory as seen by the browser process

	logger    arbor.ILogger
	closeOnce sync.Once
	closeErr  error
}

// Context returns the root browser context. Tabs are created from it with chromedp.NewContext.
func (b *Browser) Context() context.Context {
	return b.ctx
}

// DownloadDirs returns the staging directory for downloads, as seen locally and by the browser
func (b *Browser) DownloadDirs() (hostDir, browserDir string) {
	return b.hostDownloadDir, b.browserDownloadDir
}

// Close shuts the browser context, the process and any container, each independently.
// It is safe to call more than once.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		var errs []error

		if b.ctx != nil {
			if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, fmt.Errorf("close browser context: %w", err))
			}
		}
		if b.cancelBrowser != nil {
			b.cancelBrowser()
		}
		if b.cancelAllocator != nil {
			b.cancelAllocator()
		}

		if b.cleanup != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := b.cleanup(ctx); err != nil {
				errs = append(errs, err)
			}
			cancel()
		}

		if b.hostDownloadDir != "" {
			if err := os.RemoveAll(b.hostDownloadDir); err != nil {
				errs = append(errs, fmt.Errorf("remove download staging dir: %w", err))
			}
		}

		b.closeErr = errors.Join(errs...)
		if b.closeErr != nil {
			b.logger.Warn().Err(b.closeErr).Msg("Browser closed with errors")
		} else {
			b.logger.Debug().Msg("Browser closed")
		}
	})
	return b.closeErr
}

// start allocates the browser on ctx and waits for it to answer, bounded by timeout.
// The first Run on a chromedp context owns the browser lifetime, so it is not given a deadline.
func start(ctx context.Context, browserCtx context.Context, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(browserCtx, chromedp.Navigate("about:blank"))
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("browser failed startup test: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("browser did not start within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
