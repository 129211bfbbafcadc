package automation

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/models"
)

// GenerationResult is the outcome of a successful generation
type GenerationResult struct {
	ArtifactPath string `json:"artifact_path"`
}

// Session owns one browser and one authenticated page on the target application.
// Initialize and Teardown are caller-synchronized; page operations are serialized by the queue.
type Session struct {
	opener Opener
	config Config
	logger arbor.ILogger
	now    func() time.Time

	mu      sync.Mutex
	page    Page
	browser io.Closer
}

// NewSession creates an uninitialized session
func NewSession(opener Opener, config Config, logger arbor.ILogger) *Session {
	return &Session{
		opener: opener,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Config returns the session configuration
func (s *Session) Config() Config {
	return s.config
}

// Initialize launches the browser, injects cookies and opens the page.
// Any previous session is torn down first.
func (s *Session) Initialize(ctx context.Context, cookies *models.CookieSet, headless bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()

	page, closer, err := s.opener.Open(ctx, headless)
	if err != nil {
		s.logger.Error().Err(err).Bool("headless", headless).Msg("Failed to launch browser")
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	var params []*network.CookieParam
	if cookies != nil {
		params = ToCookieParams(cookies.Cookies, s.now())
	}
	if err := page.SetCookies(ctx, params); err != nil {
		closeQuietly(s.logger, "page", page)
		closeQuietly(s.logger, "browser", closer)
		return fmt.Errorf("%w: cookie injection: %v", ErrLaunchFailed, err)
	}

	s.page = page
	s.browser = closer

	s.logger.Info().
		Bool("headless", headless).
		Int("cookies", len(params)).
		Msg("Automation session initialized")

	return nil
}

// IsReady reports whether a page is open
func (s *Session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page != nil
}

func (s *Session) currentPage() (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, ErrNotInitialized
	}
	return s.page, nil
}

// CurrentURL returns the page location, or "" when unavailable
func (s *Session) CurrentURL(ctx context.Context) string {
	page, err := s.currentPage()
	if err != nil {
		return ""
	}
	url, err := page.URL(ctx)
	if err != nil {
		return ""
	}
	return url
}

// VerifyAuthenticated navigates to the application and looks for signed-in evidence.
// It never fails; any error is reported as not authenticated.
func (s *Session) VerifyAuthenticated(ctx context.Context) bool {
	page, err := s.currentPage()
	if err != nil {
		return false
	}
	sel := s.config.Selectors

	if err := page.Navigate(ctx, s.config.BaseURL); err != nil {
		s.logger.Warn().Err(err).Str("url", s.config.BaseURL).Msg("Navigation failed")
		return false
	}
	if err := page.WaitReady(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Page did not settle")
		return false
	}
	if err := sleep(ctx, s.config.Timings.NavigationGrace); err != nil {
		return false
	}

	for _, indicator := range sel.SignedIn {
		found, err := page.Exists(ctx, indicator)
		if err != nil {
			continue
		}
		if found {
			s.logger.Info().Str("indicator", indicator).Msg("Authenticated session detected")
			return true
		}
	}

	signIn, err := page.Exists(ctx, sel.SignInButton)
	if err != nil {
		return false
	}
	if signIn {
		s.logger.Warn().Msg("Sign-in control present - cookies may be invalid")
		return false
	}

	// No evidence either way
	return true
}

// GenerateVideo submits prompt and waits for the application to report a terminal state
func (s *Session) GenerateVideo(ctx context.Context, prompt string) (GenerationResult, error) {
	page, err := s.currentPage()
	if err != nil {
		return GenerationResult{}, err
	}
	sel := s.config.Selectors
	timings := s.config.Timings

	s.logger.Info().Str("prompt", truncate(prompt, 50)).Msg("Starting generation")

	if err := page.WaitVisible(ctx, sel.PromptInput, timings.ElementVisible); err != nil {
		if ctx.Err() != nil {
			return GenerationResult{}, ctx.Err()
		}
		return GenerationResult{}, wrap(ErrInputNotFound, sel.PromptInput, err)
	}
	if err := page.Fill(ctx, sel.PromptInput, prompt); err != nil {
		if ctx.Err() != nil {
			return GenerationResult{}, ctx.Err()
		}
		return GenerationResult{}, wrap(ErrInputNotFound, sel.PromptInput, err)
	}
	if err := sleep(ctx, timings.FillSettle); err != nil {
		return GenerationResult{}, err
	}

	if err := page.WaitVisible(ctx, sel.GenerateButton, timings.ElementVisible); err != nil {
		if ctx.Err() != nil {
			return GenerationResult{}, ctx.Err()
		}
		return GenerationResult{}, wrap(ErrSubmitNotFound, sel.GenerateButton, err)
	}
	if err := page.Click(ctx, sel.GenerateButton); err != nil {
		if ctx.Err() != nil {
			return GenerationResult{}, ctx.Err()
		}
		return GenerationResult{}, wrap(ErrSubmitNotFound, sel.GenerateButton, err)
	}

	s.logger.Debug().Msg("Generate clicked, waiting for video")

	result, err := s.awaitCompletion(ctx, page)
	if err != nil && s.config.ScreenshotOnFailure && ctx.Err() == nil {
		s.captureFailure(ctx, page)
	}
	return result, err
}

type pollState int

const (
	pollAmbiguous pollState = iota
	pollLoading
	pollComplete
	pollError
)

// inspect checks indicators in priority order: error, completed video, loading
func (s *Session) inspect(ctx context.Context, page Page) (pollState, string) {
	sel := s.config.Selectors

	if text, found, err := page.Text(ctx, sel.ErrorMessage); err == nil && found {
		if text == "" {
			text = "Generation failed"
		}
		return pollError, text
	}

	if found, err := page.Exists(ctx, sel.VideoPreview); err == nil && found {
		return pollComplete, s.previewSource(ctx, page)
	}

	if found, err := page.Exists(ctx, sel.LoadingSpinner); err == nil && found {
		return pollLoading, ""
	}

	return pollAmbiguous, ""
}

// previewSource resolves the completed video location, falling back to the page URL
func (s *Session) previewSource(ctx context.Context, page Page) string {
	sel := s.config.Selectors
	if src, _, err := page.Attribute(ctx, sel.VideoPreview, "src"); err == nil && src != "" {
		return src
	}
	if src, _, err := page.Attribute(ctx, sel.VideoPreview+" source", "src"); err == nil && src != "" {
		return src
	}
	if url, err := page.URL(ctx); err == nil && url != "" {
		return url
	}
	return s.config.BaseURL
}

func (s *Session) awaitCompletion(ctx context.Context, page Page) (GenerationResult, error) {
	timings := s.config.Timings
	deadline := time.Now().Add(timings.VideoGeneration)

	for {
		if ctx.Err() != nil {
			return GenerationResult{}, ctx.Err()
		}

		state, detail := s.inspect(ctx, page)
		switch state {
		case pollError:
			s.logger.Warn().Str("error", detail).Msg("Application reported generation failure")
			return GenerationResult{}, &RemoteError{Message: detail}
		case pollComplete:
			s.logger.Info().Str("artifact", detail).Msg("Video generation complete")
			return GenerationResult{ArtifactPath: detail}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return GenerationResult{}, ErrTimeout
		}

		interval := timings.AmbiguousPoll
		if state == pollLoading {
			interval = timings.LoadingPoll
		}
		if interval > remaining {
			interval = remaining
		}
		if err := sleep(ctx, interval); err != nil {
			return GenerationResult{}, err
		}
	}
}

// RetrieveArtifact downloads the current video and moves it to destinationPath
func (s *Session) RetrieveArtifact(ctx context.Context, destinationPath string) (string, error) {
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	sel := s.config.Selectors
	timings := s.config.Timings

	if err := page.WaitVisible(ctx, sel.DownloadButton, timings.ElementVisible); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", wrap(ErrDownloadControlNotFound, sel.DownloadButton, err)
	}

	downloaded, err := page.Download(ctx, sel.DownloadButton, timings.DownloadComplete)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(destinationPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := moveFile(downloaded, destinationPath); err != nil {
		return "", fmt.Errorf("failed to save download: %w", err)
	}

	s.logger.Info().Str("path", destinationPath).Msg("Video downloaded")
	return destinationPath, nil
}

// Screenshot writes a PNG of the page to path
func (s *Session) Screenshot(ctx context.Context, path string) error {
	page, err := s.currentPage()
	if err != nil {
		return err
	}
	data, err := page.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (s *Session) captureFailure(ctx context.Context, page Page) {
	dir := s.config.ScreenshotDir
	if dir == "" {
		dir = "screenshots"
	}
	path := filepath.Join(dir, fmt.Sprintf("failure-%s.png", s.now().Format("20060102-150405")))
	if err := s.Screenshot(ctx, path); err != nil {
		s.logger.Debug().Err(err).Msg("Failure screenshot not captured")
		return
	}
	s.logger.Info().Str("path", path).Msg("Failure screenshot captured")
}

// Teardown closes the page and the browser. Each step is attempted regardless of earlier failures
// and the session is always left uninitialized.
func (s *Session) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

func (s *Session) teardownLocked() {
	if s.page == nil && s.browser == nil {
		return
	}
	closeQuietly(s.logger, "page", s.page)
	closeQuietly(s.logger, "browser", s.browser)
	s.page = nil
	s.browser = nil
	s.logger.Info().Msg("Automation session closed")
}

func closeQuietly(logger arbor.ILogger, name string, closer io.Closer) {
	if closer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Str("handle", name).Str("panic", fmt.Sprint(r)).Msg("Panic while closing")
		}
	}()
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Str("handle", name).Msg("Failed to close")
	}
}

// moveFile renames src to dst, copying when they are on different filesystems
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
