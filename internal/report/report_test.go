package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/tasks"
)

func sampleResult() *tasks.RunResult {
	return &tasks.RunResult{
		RunID:  "run-1",
		ListID: "900100",
		Messages: []*tasks.MessageLog{
			{
				FromUser:      "Иван",
				Date:          "2026-08-23T09:15:00+03:00",
				Duration:      42,
				Kind:          "voice",
				UpdateID:      101,
				Transcription: "подготовить отчет к понедельнику",
				Created:       1,
				Failed:        1,
				Tasks: []*tasks.Record{
					{
						Name:        "Подготовить отчет",
						Description: "Квартальный отчет",
						DueDate:     "2026-09-01",
						Priority:    2,
						Assignee:    tasks.NameList{"Мария"},
						AssigneeIDs: []int64{7},
						TaskID:      "abc123",
					},
					{
						Name:        "Согласовать бюджет",
						Description: "С финансовым отделом",
						CreateError: "server error (502)",
					},
				},
			},
			{
				FromUser:    "Петр",
				Date:        "2026-08-23T09:20:00+03:00",
				Duration:    5,
				Kind:        "audio",
				IsForwarded: true,
				UpdateID:    102,
				Error:       "transcribe note.ogg: API error (400)",
			},
		},
		TotalCreated: 1,
		TotalFailed:  1,
	}
}

func TestRenderEmptyRun(t *testing.T) {
	out := Render(&tasks.RunResult{}, time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC))

	assert.Contains(t, out, "# Отчет об обработке голосовых и аудио сообщений Telegram")
	assert.Contains(t, out, "**Дата обработки:** 2026-08-23 10:00:00")
	assert.Contains(t, out, "Новых голосовых/аудио сообщений не найдено.")
	assert.NotContains(t, out, "Итого")
}

func TestRenderFullRun(t *testing.T) {
	out := Render(sampleResult(), time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC))

	assert.Contains(t, out, "## Обработано сообщений: 2")

	assert.Contains(t, out, "### Голосовое сообщение #1\n")
	assert.Contains(t, out, "- **От:** Иван")
	assert.Contains(t, out, "- **Длительность:** 42 сек")
	assert.Contains(t, out, "**Транскрипция:**\n```\nподготовить отчет к понедельнику\n```")
	assert.Contains(t, out, "**Извлечено задач:** 2")
	assert.Contains(t, out, "- **Создано в ClickUp:** 1")
	assert.Contains(t, out, "- **Ошибок создания:** 1")

	assert.Contains(t, out, "#### Задача 1")
	assert.Contains(t, out, "- **Название:** Подготовить отчет")
	assert.Contains(t, out, "- **Дедлайн:** 2026-09-01")
	assert.Contains(t, out, "- **Приоритет:** 2")
	assert.Contains(t, out, "- **Ответственный:** Мария")
	assert.Contains(t, out, "- **ClickUp Task ID:** abc123")

	assert.Contains(t, out, "#### Задача 2")
	assert.Contains(t, out, "- **Дедлайн:** Не указан")
	assert.Contains(t, out, "- **Приоритет:** Не указан")
	assert.Contains(t, out, "- **Ошибка ClickUp:** server error (502)")

	assert.Contains(t, out, "### Аудио сообщение #2 (пересланное)")
	assert.Contains(t, out, "**⚠️ Ошибка:** transcribe note.ogg: API error (400)")

	assert.Contains(t, out, "## Итого создано задач в ClickUp: 1")
	assert.Contains(t, out, "## Итого ошибок создания задач: 1")
}

func TestRenderRunError(t *testing.T) {
	result := &tasks.RunResult{Error: "failed to poll voice messages: connection refused"}
	out := Render(result, time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC))

	assert.Contains(t, out, "**⚠️ Ошибка:** failed to poll voice messages: connection refused")
	assert.NotContains(t, out, "не найдено")
	assert.NotContains(t, out, "Итого")
}

func TestRenderMessageWithoutTasks(t *testing.T) {
	result := &tasks.RunResult{
		Messages: []*tasks.MessageLog{
			{FromUser: "Иван", Date: "2026-08-23T09:15:00+03:00", Kind: "voice"},
		},
	}
	out := Render(result, time.Now())

	assert.Contains(t, out, "**Задач не найдено**")
	assert.Contains(t, out, "## Итого создано задач в ClickUp: 0")
	assert.NotContains(t, out, "Итого ошибок")
}

func TestBuildSummary(t *testing.T) {
	got := BuildSummary(3, 5, 1, 12340*time.Millisecond, false, "processing_log_20260823_100000.md")
	want := "📋 Telegram → ClickUp\n" +
		"Сообщений: 3\n" +
		"Создано задач: 5\n" +
		"Ошибок: 1\n" +
		"Время: 12.3 с\n" +
		"Лог: processing_log_20260823_100000.md"
	assert.Equal(t, want, got)

	withDryRun := BuildSummary(0, 0, 0, time.Second, true, "log.md")
	assert.Contains(t, withDryRun, "Режим: dry-run\nЛог: log.md")
}

func TestWriteReportAndArtifact(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)

	reportPath, err := WriteReport(dir, sampleResult(), now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "processing_log_20260823_100000.md"), reportPath)
	content, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "## Обработано сообщений: 2")

	artifactPath, err := WriteArtifact(dir, sampleResult(), now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tasks_to_create_20260823_100000.json"), artifactPath)

	loaded, err := LoadArtifact(artifactPath)
	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, "900100", loaded.ListID)
	require.Len(t, loaded.Messages, 2)
	require.Len(t, loaded.Messages[0].Tasks, 2)
	assert.Equal(t, "abc123", loaded.Messages[0].Tasks[0].TaskID)
	assert.Equal(t, []int64{7}, loaded.Messages[0].Tasks[0].AssigneeIDs)
	assert.Equal(t, 1, loaded.TotalCreated)
}

func TestLatestArtifact(t *testing.T) {
	dir := t.TempDir()

	_, err := LatestArtifact(dir)
	require.Error(t, err)

	for _, name := range []string{
		"tasks_to_create_20260820_090000.json",
		"tasks_to_create_20260823_100000.json",
		"tasks_to_create_20260821_120000.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o600))
	}

	latest, err := LatestArtifact(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tasks_to_create_20260823_100000.json"), latest)
}

func TestCleanupOldFiles(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "processing_log_20260101_000000.md")
	freshPath := filepath.Join(dir, "processing_log_20260823_000000.md")
	otherPath := filepath.Join(dir, "keep.txt")
	for _, path := range []string{oldPath, freshPath, otherPath} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}
	stale := time.Now().AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(oldPath, stale, stale))
	require.NoError(t, os.Chtimes(otherPath, stale, stale))

	CleanupOldFiles(dir, ReportPattern, 30, zap.NewNop())

	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, freshPath)
	assert.FileExists(t, otherPath, "files outside the pattern are kept")

	// Zero retention keeps everything.
	require.NoError(t, os.Chtimes(freshPath, stale, stale))
	CleanupOldFiles(dir, ReportPattern, 0, zap.NewNop())
	assert.FileExists(t, freshPath)
}
