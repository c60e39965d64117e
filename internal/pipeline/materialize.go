package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/assignee"
	"github.com/birchwoodlabs/voicetask/internal/clickup"
	"github.com/birchwoodlabs/voicetask/internal/tasks"
)

// materialize creates one ClickUp task per extracted record, walking
// messages in discovery order and tasks in extraction order. Every
// outcome is annotated on the record so the artifact stays complete.
func (p *Pipeline) materialize(ctx context.Context, result *tasks.RunResult, dryRun bool) {
	if !hasTasks(result.Messages) {
		return
	}

	dir := p.members.Directory(ctx, p.cfg.ClickUp.ListID)
	dir = dir.Merge(assignee.FromOverrides(p.cfg.Assignees.Map))
	aliases := assignee.PrepareAliases(p.cfg.Assignees.Aliases)

	for _, msgLog := range result.Messages {
		if ctx.Err() != nil {
			return
		}
		if msgLog.Error != "" || len(msgLog.Tasks) == 0 {
			continue
		}

		created := 0
		for _, rec := range msgLog.Tasks {
			if ctx.Err() != nil {
				return
			}

			rec.DueDate = p.normalizer.Normalize(rec.DueDate)
			if ids := dir.Resolve(rec.Assignee, aliases); len(ids) > 0 {
				rec.AssigneeIDs = ids
			}
			payload := clickup.BuildTaskPayload(rec, p.cfg.Pipeline.DefaultPriority)

			if dryRun {
				rec.DryRun = true
				p.logger.Info("Dry run, skipped ClickUp task",
					zap.String("name", payload.Name))
				continue
			}

			taskID, err := p.sink.CreateTask(ctx, p.cfg.ClickUp.ListID, payload)
			if err != nil {
				rec.CreateError = err.Error()
				msgLog.Failed++
				result.TotalFailed++
				if errors.Is(err, clickup.ErrMissingTaskID) {
					p.logger.Warn("Task created without ID in response",
						zap.String("name", payload.Name))
				} else {
					p.logger.Error("Failed to create ClickUp task",
						zap.String("name", payload.Name),
						zap.Error(err))
				}
				continue
			}

			rec.TaskID = taskID
			created++
			result.TotalCreated++
			p.logger.Info("Created ClickUp task",
				zap.String("id", taskID),
				zap.String("name", payload.Name))
			p.scheduleReminder(ctx, rec, payload)
		}
		if created > 0 {
			msgLog.Created = created
		}
	}
}

// scheduleReminder creates a ClickUp reminder ahead of the task's due
// date. Reminders in the past are skipped and failures never fail the
// task itself.
func (p *Pipeline) scheduleReminder(ctx context.Context, rec *tasks.Record, payload *clickup.TaskPayload) {
	cu := p.cfg.ClickUp
	if !cu.RemindersActive() || payload.DueDate == 0 || cu.ReminderOffset <= 0 {
		return
	}
	remindAt := payload.DueDate - cu.ReminderOffset.Milliseconds()
	if remindAt <= p.now().UnixMilli() {
		return
	}
	var assigneeID int64
	if len(rec.AssigneeIDs) > 0 {
		assigneeID = rec.AssigneeIDs[0]
	}
	if err := p.sink.CreateReminder(ctx, cu.TeamID, rec.TaskID, remindAt, assigneeID); err != nil {
		p.logger.Warn("Failed to create reminder",
			zap.String("task_id", rec.TaskID),
			zap.Error(err))
		return
	}
	rec.ReminderAt = remindAt
}

func hasTasks(logs []*tasks.MessageLog) bool {
	for _, log := range logs {
		if log.Error == "" && len(log.Tasks) > 0 {
			return true
		}
	}
	return false
}
