// Package config loads and validates configuration for the voicetask
// pipeline. Values come from an optional YAML file overlaid with
// VOICETASK_-prefixed environment variables; API credentials are resolved
// separately, see LoadSecrets.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the voicetask pipeline.
type Config struct {
	Telegram  TelegramConfig  `koanf:"telegram"`
	OpenAI    OpenAIConfig    `koanf:"openai"`
	ClickUp   ClickUpConfig   `koanf:"clickup"`
	HTTP      HTTPConfig      `koanf:"http"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Summary   SummaryConfig   `koanf:"summary"`
	Assignees AssigneesConfig `koanf:"assignees"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// TelegramConfig controls chat polling.
type TelegramConfig struct {
	// CheckHours bounds how far back the first run looks when no cursor
	// exists yet. Later runs resume from the saved cursor instead.
	CheckHours int `koanf:"check_hours"`
	// BaseURL overrides the Telegram Bot API endpoint, mainly for tests.
	BaseURL string `koanf:"base_url"`
}

// OpenAIConfig controls transcription and task extraction.
type OpenAIConfig struct {
	TranscribeModel string `koanf:"transcribe_model"`
	// Language hints the expected speech language to the transcription model.
	Language     string `koanf:"language"`
	ExtractModel string `koanf:"extract_model"`
	// MaxAttempts bounds retries of a single transcription or extraction call.
	MaxAttempts int `koanf:"max_attempts"`
	// Workers bounds how many messages are transcribed concurrently.
	Workers int    `koanf:"workers"`
	BaseURL string `koanf:"base_url"`
}

// ClickUpConfig controls task creation and the member directory.
type ClickUpConfig struct {
	// ListID is the destination list for created tasks.
	ListID string `koanf:"list_id"`
	// TeamID (workspace ID) is required for reminders; without it reminder
	// creation is silently disabled.
	TeamID string `koanf:"team_id"`
	// MemberCacheTTL controls how long fetched list members are reused.
	// Zero or negative disables the cache.
	MemberCacheTTL   time.Duration `koanf:"member_cache_ttl"`
	RemindersEnabled Toggle        `koanf:"reminders_enabled"`
	// ReminderOffset is how long before the due date a reminder fires.
	ReminderOffset time.Duration `koanf:"reminder_offset"`
	BaseURL        string        `koanf:"base_url"`
}

// RemindersActive reports whether reminders should actually be created:
// the toggle must be on and a team ID must be configured.
func (c ClickUpConfig) RemindersActive() bool {
	return c.RemindersEnabled.Bool() && c.TeamID != ""
}

// HTTPConfig tunes the shared HTTP retry policy.
type HTTPConfig struct {
	// MaxAttempts bounds transport-level retries of a single HTTP request.
	MaxAttempts int `koanf:"max_attempts"`
}

// PipelineConfig tunes the run itself.
type PipelineConfig struct {
	// DownloadWorkers bounds how many voice files download concurrently.
	DownloadWorkers int `koanf:"download_workers"`
	// DefaultPriority is used when the extractor returns none. 1 is urgent,
	// 4 is low.
	DefaultPriority int `koanf:"default_priority"`
	// Timezone anchors relative due-date phrases like "завтра".
	Timezone string `koanf:"timezone"`
	// StoreTranscriptions includes transcription text in reports and
	// artifacts.
	StoreTranscriptions Toggle `koanf:"store_transcriptions"`
	// TranscriptionMaxChars truncates stored transcriptions. Zero keeps
	// them out entirely, negative keeps them whole.
	TranscriptionMaxChars int `koanf:"transcription_max_chars"`
	// StateFile stores the update cursor between runs.
	StateFile string `koanf:"state_file"`
	// LockFile guards against overlapping runs.
	LockFile string `koanf:"lock_file"`
	// CacheFile stores fetched ClickUp list members.
	CacheFile string `koanf:"cache_file"`
	// OutputDir receives run reports and task artifacts.
	OutputDir          string `koanf:"output_dir"`
	LogRetentionDays   int    `koanf:"log_retention_days"`
	TasksRetentionDays int    `koanf:"tasks_retention_days"`
}

// Location resolves the configured timezone.
func (p PipelineConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
	}
	return loc, nil
}

// SummaryConfig controls the post-run chat notification.
type SummaryConfig struct {
	Enabled Toggle `koanf:"enabled"`
	// ChatID receives the summary. Empty falls back to the polled chat.
	ChatID string `koanf:"chat_id"`
}

// AssigneesConfig carries the manual member directory and the alias table.
type AssigneesConfig struct {
	// Map assigns ClickUp user IDs to names directly, bypassing the member
	// fetch for those names. Values may be a single ID or a list of IDs.
	Map map[string]interface{} `koanf:"map"`
	// Aliases maps alternate spellings to canonical names, e.g. Ваня→Иван.
	Aliases map[string]string `koanf:"aliases"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if err := c.OpenAI.Validate(); err != nil {
		return fmt.Errorf("openai: %w", err)
	}
	if err := c.ClickUp.Validate(); err != nil {
		return fmt.Errorf("clickup: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Validate checks Telegram configuration.
func (t TelegramConfig) Validate() error {
	if t.CheckHours < 1 {
		return fmt.Errorf("check_hours must be at least 1, got %d", t.CheckHours)
	}
	return nil
}

// Validate checks OpenAI configuration.
func (o OpenAIConfig) Validate() error {
	if o.TranscribeModel == "" {
		return fmt.Errorf("transcribe_model is required")
	}
	if o.ExtractModel == "" {
		return fmt.Errorf("extract_model is required")
	}
	if o.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", o.MaxAttempts)
	}
	if o.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", o.Workers)
	}
	return nil
}

// Validate checks ClickUp configuration.
func (c ClickUpConfig) Validate() error {
	if c.ListID == "" {
		return fmt.Errorf("list_id is required")
	}
	if c.ReminderOffset < 0 {
		return fmt.Errorf("reminder_offset cannot be negative, got %s", c.ReminderOffset)
	}
	return nil
}

// Validate checks HTTP configuration.
func (h HTTPConfig) Validate() error {
	if h.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", h.MaxAttempts)
	}
	return nil
}

// Validate checks pipeline configuration.
func (p PipelineConfig) Validate() error {
	if p.DownloadWorkers < 1 {
		return fmt.Errorf("download_workers must be at least 1, got %d", p.DownloadWorkers)
	}
	if p.DefaultPriority < 1 || p.DefaultPriority > 4 {
		return fmt.Errorf("default_priority must be between 1 and 4, got %d", p.DefaultPriority)
	}
	if _, err := p.Location(); err != nil {
		return err
	}
	if p.StateFile == "" {
		return fmt.Errorf("state_file is required")
	}
	if p.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	return nil
}

// Validate checks logging configuration.
func (l LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid level %q (use debug, info, warn or error)", l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid format %q (use json or console)", l.Format)
	}
	return nil
}
