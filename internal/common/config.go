package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// DefaultConfigFile is picked up from the working directory when no -c flag is given
const DefaultConfigFile = "flowqueue.toml"

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Logging    LoggingConfig    `toml:"logging"`
	Storage    StorageConfig    `toml:"storage"`
	Browser    BrowserConfig    `toml:"browser"`
	Automation AutomationConfig `toml:"automation"`
	Cookies    CookiesConfig    `toml:"cookies"`
	Queue      QueueConfig      `toml:"queue"`
	Downloader DownloaderConfig `toml:"downloader"`
	Chat       ChatConfig       `toml:"chat"`
	WebSocket  WebSocketConfig  `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Enabled        bool   `toml:"enabled"`          // Persist queue items and the imported cookie set
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// BrowserConfig controls how the automated browser is launched
type BrowserConfig struct {
	Mode           string   `toml:"mode"`        // "local" (chrome process) or "docker" (browserless container)
	Headless       bool     `toml:"headless"`    // Default for sessions that do not specify it
	NoSandbox      bool     `toml:"no_sandbox"`  // Adds --no-sandbox
	ExecPath       string   `toml:"exec_path"`   // Chrome binary, empty = chromedp lookup
	UserAgent      string   `toml:"user_agent"`  // Presented on every request
	ViewportWidth  int      `toml:"viewport_width"`
	ViewportHeight int      `toml:"viewport_height"`
	ExtraFlags     []string `toml:"extra_flags"` // Additional chrome switches without the leading "--"
	DockerImage    string   `toml:"docker_image"`
	DockerHost     string   `toml:"docker_host"`     // Empty = docker client from environment
	StartupTimeout string   `toml:"startup_timeout"` // Wait for the browser endpoint, e.g. "30s"
}

// AutomationConfig contains the target application location and its page vocabulary
type AutomationConfig struct {
	BaseURL             string          `toml:"base_url"`
	DownloadDir         string          `toml:"download_dir"`          // Empty = artifacts stay remote, path is the preview URL
	ScreenshotOnFailure bool            `toml:"screenshot_on_failure"` // Capture a PNG when a generation fails
	ScreenshotDir       string          `toml:"screenshot_dir"`
	Timeouts            TimeoutsConfig  `toml:"timeouts"`
	Selectors           SelectorsConfig `toml:"selectors"`
}

// TimeoutsConfig holds the duration strings for every bounded wait
type TimeoutsConfig struct {
	PageLoad         string `toml:"page_load"`
	ElementVisible   string `toml:"element_visible"`
	VideoGeneration  string `toml:"video_generation"`
	DownloadComplete string `toml:"download_complete"`
	LoadingPoll      string `toml:"loading_poll"`   // Sleep while the loading indicator is present
	AmbiguousPoll    string `toml:"ambiguous_poll"` // Sleep when no indicator is present
	NavigationGrace  string `toml:"navigation_grace"`
	FillSettle       string `toml:"fill_settle"`
}

// SelectorsConfig names the CSS selectors used against the target application
type SelectorsConfig struct {
	SignInButton   string   `toml:"sign_in_button"`
	SignedIn       []string `toml:"signed_in"` // Checked in order, first match wins
	PromptInput    string   `toml:"prompt_input"`
	GenerateButton string   `toml:"generate_button"`
	VideoPreview   string   `toml:"video_preview"`
	DownloadButton string   `toml:"download_button"`
	LoadingSpinner string   `toml:"loading_spinner"`
	ErrorMessage   string   `toml:"error_message"`
}

// CookiesConfig contains credential import settings
type CookiesConfig struct {
	AuthDomains []string `toml:"auth_domains"` // Cookies whose domain contains one of these are kept
	File        string   `toml:"file"`         // Optional cookie export imported at startup
}

type QueueConfig struct {
	SubmitInterval    string `toml:"submit_interval"`     // Minimum spacing between submissions, "0" disables
	AutoStartSchedule string `toml:"auto_start_schedule"` // Cron expression that resumes the queue, empty disables
	ItemTimeout       string `toml:"item_timeout"`        // Upper bound for one generator call including download
}

// DownloaderConfig configures the external media extractor
type DownloaderConfig struct {
	Binary    string `toml:"binary"`     // yt-dlp executable
	OutputDir string `toml:"output_dir"` // Empty = ~/Downloads
	Format    string `toml:"format"`
}

// ChatConfig configures the local language-model relay
type ChatConfig struct {
	Endpoint string `toml:"endpoint"`
	Model    string `toml:"model"`
	Timeout  string `toml:"timeout"`
}

// WebSocketConfig contains configuration for the event feed
type WebSocketConfig struct {
	// Minimum spacing between download_progress broadcasts per download
	ProgressThrottle string `toml:"progress_throttle"`
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Enabled: true,
				Path:    "./data/flowqueue",
			},
		},
		Browser: BrowserConfig{
			Mode:           "local",
			Headless:       false,
			NoSandbox:      true,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			DockerImage:    "browserless/chrome:latest",
			StartupTimeout: "30s",
		},
		Automation: AutomationConfig{
			BaseURL:       "https://labs.google/fx/flow",
			ScreenshotDir: "./screenshots",
			Timeouts: TimeoutsConfig{
				PageLoad:         "30s",
				ElementVisible:   "10s",
				VideoGeneration:  "300s",
				DownloadComplete: "60s",
				LoadingPoll:      "5s",
				AmbiguousPoll:    "3s",
				NavigationGrace:  "2s",
				FillSettle:       "500ms",
			},
			Selectors: SelectorsConfig{
				SignInButton: `button[data-label="Sign in"]`,
				SignedIn: []string{
					"img.gb_Ac",
					`img[alt*="profile"]`,
					`[data-testid="user-menu"]`,
					`button[aria-label*="Account"]`,
				},
				PromptInput:    `textarea[aria-label="Prompt"]`,
				GenerateButton: `button[aria-label="Generate"]`,
				VideoPreview:   "video",
				DownloadButton: `button[aria-label="Download"]`,
				LoadingSpinner: ".spinner",
				ErrorMessage:   ".error-message",
			},
		},
		Cookies: CookiesConfig{
			AuthDomains: []string{"google.com", "youtube.com"},
		},
		Queue: QueueConfig{
			SubmitInterval: "0",
			ItemTimeout:    "10m",
		},
		Downloader: DownloaderConfig{
			Binary: "yt-dlp",
			Format: "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
		},
		Chat: ChatConfig{
			Endpoint: "http://localhost:11434/api/chat",
			Model:    "llama3.2",
			Timeout:  "5m",
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "250ms",
			AllowedEvents:    []string{},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by the caller.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Server configuration
	if port := os.Getenv("FLOWQUEUE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FLOWQUEUE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("FLOWQUEUE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FLOWQUEUE_LOG_OUTPUT"); output != "" {
		if outputs := splitList(output); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("FLOWQUEUE_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if enabled := os.Getenv("FLOWQUEUE_BADGER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Storage.Badger.Enabled = b
		}
	}

	// Browser configuration
	if mode := os.Getenv("FLOWQUEUE_BROWSER_MODE"); mode != "" {
		config.Browser.Mode = mode
	}
	if headless := os.Getenv("FLOWQUEUE_BROWSER_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = b
		}
	}
	if execPath := os.Getenv("FLOWQUEUE_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	if userAgent := os.Getenv("FLOWQUEUE_BROWSER_USER_AGENT"); userAgent != "" {
		config.Browser.UserAgent = userAgent
	}
	if dockerHost := os.Getenv("FLOWQUEUE_BROWSER_DOCKER_HOST"); dockerHost != "" {
		config.Browser.DockerHost = dockerHost
	}

	// Automation configuration
	if baseURL := os.Getenv("FLOWQUEUE_AUTOMATION_BASE_URL"); baseURL != "" {
		config.Automation.BaseURL = baseURL
	}
	if downloadDir := os.Getenv("FLOWQUEUE_AUTOMATION_DOWNLOAD_DIR"); downloadDir != "" {
		config.Automation.DownloadDir = downloadDir
	}
	if timeout := os.Getenv("FLOWQUEUE_AUTOMATION_VIDEO_TIMEOUT"); timeout != "" {
		config.Automation.Timeouts.VideoGeneration = timeout
	}

	// Cookie configuration
	if domains := os.Getenv("FLOWQUEUE_COOKIES_AUTH_DOMAINS"); domains != "" {
		if d := splitList(domains); len(d) > 0 {
			config.Cookies.AuthDomains = d
		}
	}
	if file := os.Getenv("FLOWQUEUE_COOKIES_FILE"); file != "" {
		config.Cookies.File = file
	}

	// Queue configuration
	if interval := os.Getenv("FLOWQUEUE_QUEUE_SUBMIT_INTERVAL"); interval != "" {
		config.Queue.SubmitInterval = interval
	}
	if schedule := os.Getenv("FLOWQUEUE_QUEUE_AUTO_START_SCHEDULE"); schedule != "" {
		config.Queue.AutoStartSchedule = schedule
	}

	// Downloader configuration
	if binary := os.Getenv("FLOWQUEUE_DOWNLOADER_BINARY"); binary != "" {
		config.Downloader.Binary = binary
	}
	if outputDir := os.Getenv("FLOWQUEUE_DOWNLOADER_OUTPUT_DIR"); outputDir != "" {
		config.Downloader.OutputDir = outputDir
	}

	// Chat configuration. MODEL and ENDPOINT are the names the relay has always honoured.
	if model := firstEnv("FLOWQUEUE_CHAT_MODEL", "MODEL"); model != "" {
		config.Chat.Model = model
	}
	if endpoint := firstEnv("FLOWQUEUE_CHAT_ENDPOINT", "ENDPOINT"); endpoint != "" {
		config.Chat.Endpoint = endpoint
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that cannot be checked by the toml decoder
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case "local", "docker":
	default:
		return fmt.Errorf("invalid browser mode %q: must be local or docker", c.Browser.Mode)
	}

	durations := map[string]string{
		"browser.startup_timeout":               c.Browser.StartupTimeout,
		"automation.timeouts.page_load":         c.Automation.Timeouts.PageLoad,
		"automation.timeouts.element_visible":   c.Automation.Timeouts.ElementVisible,
		"automation.timeouts.video_generation":  c.Automation.Timeouts.VideoGeneration,
		"automation.timeouts.download_complete": c.Automation.Timeouts.DownloadComplete,
		"automation.timeouts.loading_poll":      c.Automation.Timeouts.LoadingPoll,
		"automation.timeouts.ambiguous_poll":    c.Automation.Timeouts.AmbiguousPoll,
		"automation.timeouts.navigation_grace":  c.Automation.Timeouts.NavigationGrace,
		"automation.timeouts.fill_settle":       c.Automation.Timeouts.FillSettle,
		"queue.submit_interval":                 c.Queue.SubmitInterval,
		"queue.item_timeout":                    c.Queue.ItemTimeout,
		"chat.timeout":                          c.Chat.Timeout,
		"websocket.progress_throttle":           c.WebSocket.ProgressThrottle,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}

	if c.Queue.AutoStartSchedule != "" {
		if err := ValidateSchedule(c.Queue.AutoStartSchedule); err != nil {
			return fmt.Errorf("invalid queue.auto_start_schedule: %w", err)
		}
	}

	return nil
}

// ValidateSchedule validates a standard five-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}
	return nil
}

// ParseDuration parses a duration string, returning fallback when empty or malformed
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
