package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
)

// ExecLauncher starts a local Chrome process with a fresh profile per launch
type ExecLauncher struct {
	config *common.BrowserConfig
	logger arbor.ILogger
}

// NewExecLauncher creates a launcher for a locally installed Chrome
func NewExecLauncher(config *common.BrowserConfig, logger arbor.ILogger) *ExecLauncher {
	return &ExecLauncher{config: config, logger: logger}
}

// AllocatorOptions returns the chromedp exec options for a launch
func (l *ExecLauncher) AllocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-sandbox", l.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(l.config.ViewportWidth, l.config.ViewportHeight),
	)
	if l.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.config.UserAgent))
	}
	if l.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.config.ExecPath))
	}
	for _, flag := range l.config.ExtraFlags {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(flag, "--"), "=")
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// Launch starts Chrome and verifies it responds
func (l *ExecLauncher) Launch(ctx context.Context, headless bool) (*Browser, error) {
	startTime := time.Now()

	downloadDir, err := os.MkdirTemp("", "flowqueue-downloads-")
	if err != nil {
		return nil, fmt.Errorf("failed to create download staging dir: %w", err)
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), l.AllocatorOptions(headless)...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	b := &Browser{
		ctx:                browserCtx,
		cancelBrowser:      browserCancel,
		cancelAllocator:    allocatorCancel,
		hostDownloadDir:    downloadDir,
		browserDownloadDir: downloadDir,
		logger:             l.logger,
	}

	timeout := common.ParseDuration(l.config.StartupTimeout, 30*time.Second)
	if err := start(ctx, browserCtx, timeout); err != nil {
		_ = b.Close()
		return nil, err
	}

	l.logger.Info().
		Bool("headless", headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Local browser launched")

	return b, nil
}

// Close is a no-op for local launches
func (l *ExecLauncher) Close() error {
	return nil
}
