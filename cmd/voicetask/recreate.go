package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/clickup"
	"github.com/birchwoodlabs/voicetask/internal/logging"
	"github.com/birchwoodlabs/voicetask/internal/pipeline"
)

var (
	recreateFile string
	recreateAll  bool
)

// recreateCmd replays ClickUp task creation from a saved run result
var recreateCmd = &cobra.Command{
	Use:   "recreate",
	Short: "Re-create ClickUp tasks from a saved run result",
	Long: `Re-create ClickUp tasks from a tasks_to_create_*.json run result.

By default only tasks without a ClickUp id are created, which covers failed
creates and dry runs. The annotated result is written next to the input
file with a _with_clickup suffix.

Examples:
  # Replay the newest run result in the output directory
  voicetask recreate

  # Replay a specific file, re-creating every task in it
  voicetask recreate --file logs/tasks_to_create_20260823_100000.json --all`,
	RunE: runRecreate,
}

func init() {
	recreateCmd.Flags().StringVar(&recreateFile, "file", "", "run result file (default: newest in the output directory)")
	recreateCmd.Flags().BoolVar(&recreateAll, "all", false, "re-create every task, even those that already have a ClickUp id")
}

// runRecreate handles the recreate command
func runRecreate(cmd *cobra.Command, args []string) error {
	cfg, secrets, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Cancel the replay on SIGINT or SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	cu := clickup.NewClient(secrets.ClickUpToken.Value(), cfg.ClickUp.BaseURL, cfg.HTTP.MaxAttempts, logger)
	result, outPath, err := pipeline.Recreate(ctx, cfg, cu, pipeline.RecreateOptions{
		ArtifactPath: recreateFile,
		All:          recreateAll,
	}, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Создано задач в ClickUp: %d\n", result.TotalCreated)
	if result.TotalFailed > 0 {
		fmt.Printf("Ошибок создания: %d\n", result.TotalFailed)
	}
	fmt.Printf("Результаты сохранены: %s\n", outPath)
	return nil
}
