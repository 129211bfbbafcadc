package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple -c flags supported, later files override earlier ones
	serverPort  int
	serverHost  string
	envFile     string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "flowqueue",
	Short: "Queue text prompts into a browser-automated video generator",
	Long: `FlowQueue drives an authenticated browser session against the video generation
application, feeding it queued prompts one at a time. It also wraps yt-dlp for
media downloads and relays chat to a local Ollama server.

Without a subcommand the HTTP/WebSocket server is started.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfiguration,
	RunE:              runServe,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times)")
	flags.IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	flags.StringVar(&serverHost, "host", "", "Server host (overrides config)")
	flags.StringVar(&envFile, "env-file", ".env", "Environment file loaded before FLOWQUEUE_* overrides")

	rootCmd.AddCommand(serveCmd, runCmd, downloadCmd, chatCmd, selectorsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfiguration runs the startup sequence (REQUIRED ORDER):
// 1. .env into the process environment (existing variables win)
// 2. defaults -> file1 -> file2 -> ... -> FLOWQUEUE_* env
// 3. CLI overrides
// 4. logger
func loadConfiguration(cmd *cobra.Command, args []string) error {
	if cmd.Name() == versionCmd.Name() {
		return nil
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat(common.DefaultConfigFile); err == nil {
			configFiles = append(configFiles, common.DefaultConfigFile)
		}
	}

	cfg, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	common.ApplyFlagOverrides(cfg, serverPort, serverHost)
	config = cfg

	logger = common.InitLogger(config)
	logger.Debug().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Str("browser_mode", config.Browser.Mode).
		Bool("persistence", config.Storage.Badger.Enabled).
		Msg("Resolved configuration")

	return nil
}
