package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/assignee"
	"github.com/birchwoodlabs/voicetask/internal/clickup"
	"github.com/birchwoodlabs/voicetask/internal/config"
	"github.com/birchwoodlabs/voicetask/internal/logging"
	"github.com/birchwoodlabs/voicetask/internal/openai"
	"github.com/birchwoodlabs/voicetask/internal/pipeline"
	"github.com/birchwoodlabs/voicetask/internal/telegram"
)

var (
	runDryRun    bool
	runLimit     int
	runNoSummary bool
)

// runCmd processes pending voice messages once
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process new voice messages once",
	Long: `Run one processing pass: poll the chat for voice and audio messages
that arrived since the last run, transcribe them, extract tasks and create
the tasks in ClickUp. A markdown report and a JSON run result are written
to the output directory.

Examples:
  # Process pending messages
  voicetask run

  # See what would be created without touching ClickUp
  voicetask run --dry-run

  # Process at most two messages
  voicetask run --limit 2`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "extract tasks without creating them in ClickUp")
	runCmd.Flags().IntVar(&runLimit, "limit", -1, "process at most this many messages, negative means all")
	runCmd.Flags().BoolVar(&runNoSummary, "no-summary", false, "skip the summary message to Telegram")
}

// runRun handles the run command
func runRun(cmd *cobra.Command, args []string) error {
	cfg, secrets, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Cancel the run on SIGINT or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	p, err := buildPipeline(cfg, secrets, logger)
	if err != nil {
		return err
	}
	outcome, err := p.Run(ctx, pipeline.Options{
		DryRun:    runDryRun,
		Limit:     runLimit,
		NoSummary: runNoSummary,
	})
	if err != nil {
		return err
	}

	fmt.Println(outcome.Summary)
	return nil
}

// buildPipeline wires the API clients into a ready-to-run pipeline.
func buildPipeline(cfg *config.Config, secrets *config.Secrets, logger *zap.Logger) (*pipeline.Pipeline, error) {
	tg := telegram.NewClient(secrets.TelegramBotToken.Value(), cfg.Telegram.BaseURL, cfg.HTTP.MaxAttempts, logger)
	oa := openai.NewClient(openai.Options{
		APIKey:          secrets.OpenAIAPIKey.Value(),
		BaseURL:         cfg.OpenAI.BaseURL,
		TranscribeModel: cfg.OpenAI.TranscribeModel,
		Language:        cfg.OpenAI.Language,
		ExtractModel:    cfg.OpenAI.ExtractModel,
		MaxAttempts:     cfg.OpenAI.MaxAttempts,
	}, logger)
	cu := clickup.NewClient(secrets.ClickUpToken.Value(), cfg.ClickUp.BaseURL, cfg.HTTP.MaxAttempts, logger)
	members := assignee.NewProvider(cu, cfg.Pipeline.CacheFile, cfg.ClickUp.MemberCacheTTL, logger)

	return pipeline.New(cfg, secrets.TelegramChatID, pipeline.Deps{
		Source:    tg,
		Extractor: oa,
		Sink:      cu,
		Members:   members,
		Logger:    logger,
	})
}
