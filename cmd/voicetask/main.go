// Package main implements the voicetask CLI for turning Telegram voice
// messages into ClickUp tasks.
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/config"
	"github.com/birchwoodlabs/voicetask/internal/logging"
)

var (
	// configPath points at the YAML config file, empty means the default
	configPath string
	// logLevel and logFormat override the configured logging settings
	logLevel  string
	logFormat string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "voicetask",
	Short: "Turn Telegram voice messages into ClickUp tasks",
	Long: `voicetask polls a Telegram chat for new voice and audio messages,
transcribes them with Whisper, extracts actionable tasks with a GPT model
and creates the tasks in ClickUp.

Credentials come from the environment (TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID,
OPENAI_API_KEY, CLICKUP_TOKEN) or from ~/.voicetask/secrets.json.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/voicetask/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override the configured log format (json, console)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recreateCmd)
}

// setup loads configuration and credentials and builds the logger that
// every command shares. Flag overrides win over the config file.
func setup() (*config.Config, *config.Secrets, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	secrets, err := config.LoadSecrets("")
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, secrets, logger, nil
}
