// Package pipeline wires one processing run end to end: poll Telegram
// for new voice messages, download and transcribe them, extract tasks,
// create the tasks in ClickUp, and persist the run artifacts.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/assignee"
	"github.com/birchwoodlabs/voicetask/internal/clickup"
	"github.com/birchwoodlabs/voicetask/internal/config"
	"github.com/birchwoodlabs/voicetask/internal/duedate"
	"github.com/birchwoodlabs/voicetask/internal/report"
	"github.com/birchwoodlabs/voicetask/internal/runlock"
	"github.com/birchwoodlabs/voicetask/internal/state"
	"github.com/birchwoodlabs/voicetask/internal/tasks"
	"github.com/birchwoodlabs/voicetask/internal/telegram"
)

// MessageSource discovers and fetches voice messages and delivers the
// run summary. *telegram.Client implements it.
type MessageSource interface {
	RecentVoiceMessages(ctx context.Context, chatID string, window time.Duration, cursor int64) ([]telegram.VoiceMessage, int64, error)
	Download(ctx context.Context, fileID, dest string) error
	SendMessage(ctx context.Context, chatID, text string) error
}

// Extractor turns audio into a transcript and a transcript into task
// records. *openai.Client implements it.
type Extractor interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	ExtractTasks(ctx context.Context, transcription string) ([]*tasks.Record, error)
}

// TaskSink creates tasks and reminders. *clickup.Client implements it.
type TaskSink interface {
	CreateTask(ctx context.Context, listID string, payload *clickup.TaskPayload) (string, error)
	CreateReminder(ctx context.Context, teamID, taskID string, remindAt int64, assigneeID int64) error
}

// DirectorySource supplies the member directory used for assignee
// resolution. *assignee.Provider implements it.
type DirectorySource interface {
	Directory(ctx context.Context, listID string) assignee.Directory
}

// Deps carries the pipeline's external collaborators.
type Deps struct {
	Source    MessageSource
	Extractor Extractor
	Sink      TaskSink
	Members   DirectorySource
	Logger    *zap.Logger
}

// Options are per-run switches.
type Options struct {
	// DryRun resolves and annotates tasks but skips ClickUp calls.
	DryRun bool
	// Limit caps how many discovered messages are processed; negative
	// means no cap.
	Limit int
	// NoSummary suppresses the Telegram summary even when configured on.
	NoSummary bool
}

// Outcome is what one run produced beyond the durable artifacts.
type Outcome struct {
	Result       *tasks.RunResult
	ReportPath   string
	ArtifactPath string
	Summary      string
}

// Pipeline executes processing runs.
type Pipeline struct {
	cfg        *config.Config
	chatID     string
	source     MessageSource
	extractor  Extractor
	sink       TaskSink
	members    DirectorySource
	state      *state.Store
	normalizer *duedate.Normalizer
	logger     *zap.Logger

	// test hooks
	tempDir string
	now     func() time.Time
}

// New creates a pipeline bound to the chat whose messages it processes.
func New(cfg *config.Config, chatID string, deps Deps) (*Pipeline, error) {
	loc, err := cfg.Pipeline.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		chatID:     chatID,
		source:     deps.Source,
		extractor:  deps.Extractor,
		sink:       deps.Sink,
		members:    deps.Members,
		state:      state.NewStore(cfg.Pipeline.StateFile, logger),
		normalizer: duedate.NewNormalizer(loc),
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Run executes one processing iteration. A canceled context stops the
// run without advancing the cursor or writing artifacts, so the next
// run picks the same messages up again. A failed poll still writes a
// report recording the error.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Outcome, error) {
	start := p.now()
	p.logger.Info("Starting voice message processing", zap.Bool("dry_run", opts.DryRun))

	release, err := runlock.Acquire(ctx, p.cfg.Pipeline.LockFile, p.logger)
	if err != nil {
		return nil, err
	}
	defer release()

	result := &tasks.RunResult{
		RunID:     uuid.NewString(),
		StartedAt: start,
		ListID:    p.cfg.ClickUp.ListID,
	}

	cursor := p.state.Load()
	window := time.Duration(p.cfg.Telegram.CheckHours) * time.Hour
	p.logger.Info("Polling for voice messages",
		zap.String("chat_id", p.chatID),
		zap.Int64("cursor", cursor))
	msgs, maxSeen, err := p.source.RecentVoiceMessages(ctx, p.chatID, window, cursor)
	if err != nil {
		err = fmt.Errorf("failed to poll voice messages: %w", err)
		// A failed poll still leaves a report on disk, unless the run
		// was interrupted.
		if ctx.Err() == nil {
			result.Error = err.Error()
			if path, werr := report.WriteReport(p.cfg.Pipeline.OutputDir, result, p.now()); werr != nil {
				p.logger.Error("Failed to write report", zap.Error(werr))
			} else {
				p.logger.Info("Report saved", zap.String("path", path))
			}
		}
		return nil, err
	}

	if opts.Limit >= 0 && len(msgs) > opts.Limit {
		msgs = msgs[:opts.Limit]
		p.logger.Info("Found voice messages",
			zap.Int("count", len(msgs)),
			zap.Int("limit", opts.Limit))
	} else {
		p.logger.Info("Found voice messages", zap.Int("count", len(msgs)))
	}

	result.Messages = make([]*tasks.MessageLog, len(msgs))
	for i := range msgs {
		result.Messages[i] = newMessageLog(&msgs[i])
	}

	downloads := p.downloadStage(ctx, msgs, result.Messages)
	p.processStage(ctx, downloads, result.Messages)
	p.materialize(ctx, result, opts.DryRun)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The cursor covers the processed batch; when nothing was discovered
	// it jumps over the scanned updates instead.
	target := maxUpdateID(msgs)
	if target == 0 {
		target = maxSeen
	}
	if target > 0 {
		if _, err := p.state.Advance(target); err != nil {
			p.logger.Error("Failed to persist cursor", zap.Error(err))
		}
	}

	outcome := &Outcome{Result: result}
	outDir := p.cfg.Pipeline.OutputDir
	if path, err := report.WriteReport(outDir, result, p.now()); err != nil {
		p.logger.Error("Failed to write report", zap.Error(err))
	} else {
		outcome.ReportPath = path
		p.logger.Info("Report saved", zap.String("path", path))
	}
	if path, err := report.WriteArtifact(outDir, result, p.now()); err != nil {
		p.logger.Error("Failed to write run result", zap.Error(err))
	} else {
		outcome.ArtifactPath = path
		p.logger.Info("Run result saved", zap.String("path", path))
	}
	report.CleanupOldFiles(outDir, report.ReportPattern, p.cfg.Pipeline.LogRetentionDays, p.logger)
	report.CleanupOldFiles(outDir, report.ArtifactPattern, p.cfg.Pipeline.TasksRetentionDays, p.logger)

	elapsed := p.now().Sub(start)
	p.logger.Info("Processing finished",
		zap.Int("created", result.TotalCreated),
		zap.Int("failed", result.TotalFailed),
		zap.Duration("elapsed", elapsed))

	outcome.Summary = report.BuildSummary(
		len(result.Messages),
		result.TotalCreated,
		result.TotalFailed,
		elapsed,
		opts.DryRun,
		filepath.Base(outcome.ReportPath),
	)
	if p.cfg.Summary.Enabled.Bool() && !opts.NoSummary {
		chat := p.cfg.Summary.ChatID
		if chat == "" {
			chat = p.chatID
		}
		if err := p.source.SendMessage(ctx, chat, outcome.Summary); err != nil {
			p.logger.Warn("Failed to send summary message", zap.Error(err))
		}
	}

	return outcome, nil
}

func newMessageLog(m *telegram.VoiceMessage) *tasks.MessageLog {
	return &tasks.MessageLog{
		FromUser:    m.FromUser,
		Date:        m.Date.Format(time.RFC3339),
		Duration:    m.Duration,
		Kind:        m.Kind,
		IsForwarded: m.IsForwarded,
		UpdateID:    m.UpdateID,
	}
}

func maxUpdateID(msgs []telegram.VoiceMessage) int64 {
	var max int64
	for i := range msgs {
		if msgs[i].UpdateID > max {
			max = msgs[i].UpdateID
		}
	}
	return max
}
