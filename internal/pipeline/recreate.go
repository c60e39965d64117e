package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/clickup"
	"github.com/birchwoodlabs/voicetask/internal/config"
	"github.com/birchwoodlabs/voicetask/internal/report"
	"github.com/birchwoodlabs/voicetask/internal/tasks"
)

// RecreateOptions control a recreate pass.
type RecreateOptions struct {
	// ArtifactPath names the run result to replay; empty selects the
	// newest artifact in the output directory.
	ArtifactPath string
	// All re-creates every task, including those that already carry a
	// ClickUp id. The default replays only tasks without one, which
	// covers failed creates and dry runs.
	All bool
}

// Recreate replays task creation from a stored run result, annotating
// the records in place and writing the updated result next to the
// original artifact. It returns the updated result and the path it was
// written to.
func Recreate(ctx context.Context, cfg *config.Config, sink TaskSink, opts RecreateOptions, logger *zap.Logger) (*tasks.RunResult, string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	path := opts.ArtifactPath
	if path == "" {
		var err error
		path, err = report.LatestArtifact(cfg.Pipeline.OutputDir)
		if err != nil {
			return nil, "", err
		}
	}
	logger.Info("Replaying run result", zap.String("path", path))

	result, err := report.LoadArtifact(path)
	if err != nil {
		return nil, "", err
	}
	listID := strings.TrimSpace(result.ListID)
	if listID == "" {
		return nil, "", fmt.Errorf("run result %s carries no list id", path)
	}

	created, failed := 0, 0
	for _, msgLog := range result.Messages {
		for _, rec := range msgLog.Tasks {
			if err := ctx.Err(); err != nil {
				return nil, "", err
			}
			if rec.TaskID != "" && !opts.All {
				continue
			}

			payload := clickup.BuildTaskPayload(rec, cfg.Pipeline.DefaultPriority)
			taskID, err := sink.CreateTask(ctx, listID, payload)
			if err != nil {
				rec.CreateError = err.Error()
				failed++
				if errors.Is(err, clickup.ErrMissingTaskID) {
					logger.Warn("Task created without ID in response",
						zap.String("name", payload.Name))
				} else {
					logger.Error("Failed to create ClickUp task",
						zap.String("name", payload.Name),
						zap.Error(err))
				}
				continue
			}
			rec.TaskID = taskID
			rec.CreateError = ""
			rec.DryRun = false
			created++
			logger.Info("Created ClickUp task",
				zap.String("id", taskID),
				zap.String("name", payload.Name))
		}
	}

	// Totals now describe this pass, not the original run.
	result.TotalCreated = created
	result.TotalFailed = failed

	outPath := strings.TrimSuffix(path, ".json") + "_with_clickup.json"
	if err := report.WriteArtifactTo(outPath, result); err != nil {
		return nil, "", err
	}
	logger.Info("Updated run result saved", zap.String("path", outPath))
	return result, outPath, nil
}
