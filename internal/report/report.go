// Package report renders the per-run artifacts: the human-readable
// markdown report, the machine-readable result JSON that the recreate
// command consumes, and the short summary message sent back to the chat.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/birchwoodlabs/voicetask/internal/tasks"
	"github.com/birchwoodlabs/voicetask/internal/telegram"
)

// Render produces the markdown report for one run. The report language
// follows the source messages.
func Render(result *tasks.RunResult, generatedAt time.Time) string {
	var b strings.Builder
	b.WriteString("# Отчет об обработке голосовых и аудио сообщений Telegram\n\n")
	fmt.Fprintf(&b, "**Дата обработки:** %s\n\n", generatedAt.Format("2006-01-02 15:04:05"))

	if result.Error != "" {
		fmt.Fprintf(&b, "## Результат\n\n**⚠️ Ошибка:** %s\n", result.Error)
		return b.String()
	}
	if len(result.Messages) == 0 {
		b.WriteString("## Результат\n\nНовых голосовых/аудио сообщений не найдено.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "## Обработано сообщений: %d\n\n", len(result.Messages))

	for i, msg := range result.Messages {
		writeMessageSection(&b, i+1, msg)
	}

	fmt.Fprintf(&b, "\n## Итого создано задач в ClickUp: %d\n", result.TotalCreated)
	if result.TotalFailed > 0 {
		fmt.Fprintf(&b, "## Итого ошибок создания задач: %d\n", result.TotalFailed)
	}
	return b.String()
}

func writeMessageSection(b *strings.Builder, idx int, msg *tasks.MessageLog) {
	kind := "Аудио"
	if msg.Kind == telegram.KindVoice {
		kind = "Голосовое"
	}
	forwarded := ""
	if msg.IsForwarded {
		forwarded = " (пересланное)"
	}
	fmt.Fprintf(b, "### %s сообщение #%d%s\n\n", kind, idx, forwarded)
	fmt.Fprintf(b, "- **От:** %s\n", msg.FromUser)
	fmt.Fprintf(b, "- **Дата:** %s\n", msg.Date)
	fmt.Fprintf(b, "- **Длительность:** %d сек\n", msg.Duration)
	fmt.Fprintf(b, "- **Тип:** %s\n\n", msg.Kind)

	if msg.Transcription != "" {
		fmt.Fprintf(b, "**Транскрипция:**\n```\n%s\n```\n\n", msg.Transcription)
	}

	switch {
	case msg.Error != "":
		fmt.Fprintf(b, "**⚠️ Ошибка:** %s\n\n", msg.Error)
	case len(msg.Tasks) > 0:
		fmt.Fprintf(b, "**Извлечено задач:** %d\n\n", len(msg.Tasks))
		if msg.Created > 0 {
			fmt.Fprintf(b, "- **Создано в ClickUp:** %d\n", msg.Created)
		}
		if msg.Failed > 0 {
			fmt.Fprintf(b, "- **Ошибок создания:** %d\n", msg.Failed)
		}
		if msg.Created > 0 || msg.Failed > 0 {
			b.WriteString("\n")
		}
		for n, rec := range msg.Tasks {
			writeTaskSection(b, n+1, rec)
		}
	default:
		b.WriteString("**Задач не найдено**\n\n")
	}

	b.WriteString("---\n\n")
}

func writeTaskSection(b *strings.Builder, idx int, rec *tasks.Record) {
	fmt.Fprintf(b, "#### Задача %d\n", idx)
	fmt.Fprintf(b, "- **Название:** %s\n", rec.Name)
	fmt.Fprintf(b, "- **Описание:** %s\n", rec.Description)
	fmt.Fprintf(b, "- **Дедлайн:** %s\n", orMissing(rec.DueDate))
	if rec.Priority.Valid() {
		fmt.Fprintf(b, "- **Приоритет:** %d\n", int(rec.Priority))
	} else {
		b.WriteString("- **Приоритет:** Не указан\n")
	}
	fmt.Fprintf(b, "- **Ответственный:** %s\n", orMissing(rec.Assignee.String()))
	if rec.TaskID != "" {
		fmt.Fprintf(b, "- **ClickUp Task ID:** %s\n", rec.TaskID)
	}
	if rec.CreateError != "" {
		fmt.Fprintf(b, "- **Ошибка ClickUp:** %s\n", rec.CreateError)
	}
	b.WriteString("\n")
}

func orMissing(s string) string {
	if s == "" {
		return "Не указан"
	}
	return s
}

// BuildSummary renders the short run summary for the chat notification.
func BuildSummary(messageCount, created, failed int, elapsed time.Duration, dryRun bool, logName string) string {
	parts := []string{
		"📋 Telegram → ClickUp",
		fmt.Sprintf("Сообщений: %d", messageCount),
		fmt.Sprintf("Создано задач: %d", created),
		fmt.Sprintf("Ошибок: %d", failed),
		fmt.Sprintf("Время: %.1f с", elapsed.Seconds()),
	}
	if dryRun {
		parts = append(parts, "Режим: dry-run")
	}
	parts = append(parts, "Лог: "+logName)
	return strings.Join(parts, "\n")
}
