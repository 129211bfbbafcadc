package automation

import (
	"time"

	"github.com/ternarybob/flowqueue/internal/common"
)

// Selectors is the page vocabulary of the target application
type Selectors struct {
	SignInButton   string
	SignedIn       []string // Checked in order; any match means signed in
	PromptInput    string
	GenerateButton string
	VideoPreview   string
	DownloadButton string
	LoadingSpinner string
	ErrorMessage   string
}

// Timings bounds every wait the session performs
type Timings struct {
	PageLoad         time.Duration
	ElementVisible   time.Duration
	VideoGeneration  time.Duration
	DownloadComplete time.Duration
	LoadingPoll      time.Duration
	AmbiguousPoll    time.Duration
	NavigationGrace  time.Duration
	FillSettle       time.Duration
}

// Config holds everything the session needs besides the browser itself
type Config struct {
	BaseURL             string
	DownloadDir         string
	ScreenshotOnFailure bool
	ScreenshotDir       string
	Selectors           Selectors
	Timings             Timings
}

// NewConfig converts the [automation] section into session configuration
func NewConfig(cfg *common.AutomationConfig) Config {
	t := cfg.Timeouts
	s := cfg.Selectors
	return Config{
		BaseURL:             cfg.BaseURL,
		DownloadDir:         cfg.DownloadDir,
		ScreenshotOnFailure: cfg.ScreenshotOnFailure,
		ScreenshotDir:       cfg.ScreenshotDir,
		Selectors: Selectors{
			SignInButton:   s.SignInButton,
			SignedIn:       append([]string(nil), s.SignedIn...),
			PromptInput:    s.PromptInput,
			GenerateButton: s.GenerateButton,
			VideoPreview:   s.VideoPreview,
			DownloadButton: s.DownloadButton,
			LoadingSpinner: s.LoadingSpinner,
			ErrorMessage:   s.ErrorMessage,
		},
		Timings: Timings{
			PageLoad:         common.ParseDuration(t.PageLoad, 30*time.Second),
			ElementVisible:   common.ParseDuration(t.ElementVisible, 10*time.Second),
			VideoGeneration:  common.ParseDuration(t.VideoGeneration, 300*time.Second),
			DownloadComplete: common.ParseDuration(t.DownloadComplete, 60*time.Second),
			LoadingPoll:      common.ParseDuration(t.LoadingPoll, 5*time.Second),
			AmbiguousPoll:    common.ParseDuration(t.AmbiguousPoll, 3*time.Second),
			NavigationGrace:  common.ParseDuration(t.NavigationGrace, 2*time.Second),
			FillSettle:       common.ParseDuration(t.FillSettle, 500*time.Millisecond),
		},
	}
}

// Named returns the single-valued selectors keyed by their config name
func (s Selectors) Named() []NamedSelector {
	named := []NamedSelector{
		{Name: "sign_in_button", Selector: s.SignInButton},
	}
	for _, sel := range s.SignedIn {
		named = append(named, NamedSelector{Name: "signed_in", Selector: sel})
	}
	return append(named,
		NamedSelector{Name: "prompt_input", Selector: s.PromptInput},
		NamedSelector{Name: "generate_button", Selector: s.GenerateButton},
		NamedSelector{Name: "video_preview", Selector: s.VideoPreview},
		NamedSelector{Name: "download_button", Selector: s.DownloadButton},
		NamedSelector{Name: "loading_spinner", Selector: s.LoadingSpinner},
		NamedSelector{Name: "error_message", Selector: s.ErrorMessage},
	)
}

// NamedSelector pairs a selector with its config key
type NamedSelector struct {
	Name     string `json:"name"`
	Selector string `json:"selector"`
}
