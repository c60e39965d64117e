// Package tasks defines the records shared by the pipeline stages: extracted
// task candidates, per-message processing logs, and the aggregate run result
// persisted as the machine-readable artifact.
package tasks

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Record is one extracted task candidate. The extraction stage fills the
// first five fields from the model response; later stages only add
// annotations (resolved ids, created task id, error text), never remove
// anything, so the artifact keeps a full audit trail.
type Record struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// DueDate is free text or an ISO date as extracted; empty means absent.
	// Materialization rewrites it to a normalized YYYY-MM-DD or clears it.
	DueDate  string   `json:"due_date,omitempty"`
	Priority Priority `json:"priority,omitempty"`
	Assignee NameList `json:"assignee,omitempty"`

	// Annotations added during materialization.
	AssigneeIDs []int64 `json:"assignee_ids,omitempty"`
	TaskID      string  `json:"clickup_task_id,omitempty"`
	CreateError string  `json:"clickup_error,omitempty"`
	ReminderAt  int64   `json:"clickup_reminder,omitempty"`
	DryRun      bool    `json:"clickup_dry_run,omitempty"`
}

// Priority is the 1 (urgent) to 4 (low) scale. Zero means absent. The
// extractor occasionally returns the number as a string, so decoding
// coerces numeric strings and drops anything else instead of failing.
type Priority int

// UnmarshalJSON accepts an integer, a numeric string, or null; any other
// value reads as absent.
func (p *Priority) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*p = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			*p = 0
			return nil
		}
		*p = Priority(n)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		*p = 0
		return nil
	}
	if f != float64(int(f)) {
		*p = 0
		return nil
	}
	*p = Priority(int(f))
	return nil
}

// Valid reports whether the priority is on the 1..4 scale.
func (p Priority) Valid() bool {
	return p >= 1 && p <= 4
}

// NameList holds the raw assignee value from the extractor, which may be
// a single name, a list of names, or null.
type NameList []string

// UnmarshalJSON accepts a string, a list of strings, or null. Non-string
// list elements are dropped.
func (n *NameList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*n = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*n = nil
			return nil
		}
		*n = NameList{s}
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(NameList, 0, len(raw))
	for _, el := range raw {
		var s string
		if err := json.Unmarshal(el, &s); err != nil {
			continue
		}
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		*n = nil
		return nil
	}
	*n = out
	return nil
}

// MarshalJSON writes a single name as a plain string and several as a list.
func (n NameList) MarshalJSON() ([]byte, error) {
	switch len(n) {
	case 0:
		return []byte("null"), nil
	case 1:
		return json.Marshal(n[0])
	default:
		return json.Marshal([]string(n))
	}
}

// String joins the names for display.
func (n NameList) String() string {
	return strings.Join(n, ", ")
}

// MessageLog is the processing record for one voice message. Slots are
// pre-allocated in discovery order and each pipeline worker writes only to
// its own slot, so the final array is deterministic.
type MessageLog struct {
	FromUser    string `json:"from_user"`
	Date        string `json:"date"`
	Duration    int    `json:"duration"`
	Kind        string `json:"type"`
	IsForwarded bool   `json:"is_forwarded"`
	UpdateID    int64  `json:"update_id"`

	Transcription          string    `json:"transcription,omitempty"`
	TranscriptionTruncated bool      `json:"transcription_truncated,omitempty"`
	Error                  string    `json:"error,omitempty"`
	Tasks                  []*Record `json:"tasks,omitempty"`
	Created                int       `json:"clickup_created,omitempty"`
	Failed                 int       `json:"clickup_failed,omitempty"`
}

// Processed reports whether the message made it through transcription and
// extraction without a recorded error.
func (m *MessageLog) Processed() bool {
	return m.Error == ""
}

// RunResult aggregates one pipeline run. It is serialized as the result
// artifact that the recreate command consumes.
type RunResult struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	Messages     []*MessageLog `json:"voice_messages"`
	TotalCreated int           `json:"total_tasks_created"`
	TotalFailed  int           `json:"total_tasks_failed"`
	ListID       string        `json:"clickup_list_id"`
	// Error is set when the run aborted before any message was processed,
	// so the report still records what happened.
	Error string `json:"error,omitempty"`
}
