package clickup

import (
	"time"

	"github.com/birchwoodlabs/voicetask/internal/tasks"
)

// fallbackName is used when the extractor produced a task without one.
const fallbackName = "Без названия"

// BuildTaskPayload prepares the create-task body from an extracted record.
// A missing or off-scale priority falls back to defaultPriority; a due date
// that is not YYYY-MM-DD is dropped.
func BuildTaskPayload(rec *tasks.Record, defaultPriority int) *TaskPayload {
	name := rec.Name
	if name == "" {
		name = fallbackName
	}

	priority := int(rec.Priority)
	if !rec.Priority.Valid() {
		priority = defaultPriority
	}

	p := &TaskPayload{
		Name:        name,
		Description: rec.Description,
		Priority:    priority,
	}

	if rec.DueDate != "" {
		if ms, err := EpochMillis(rec.DueDate); err == nil {
			p.DueDate = ms
		}
	}
	if len(rec.AssigneeIDs) > 0 {
		p.Assignees = rec.AssigneeIDs
	}
	return p
}

// EpochMillis converts a YYYY-MM-DD date to Unix milliseconds at UTC
// midnight, the representation the ClickUp API expects for due dates.
func EpochMillis(date string) (int64, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
