package pipeline

import (
	"context"
	"os"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/tasks"
)

// processStage transcribes each downloaded file and extracts its task
// records, bounded by the OpenAI worker count. Temp files are removed on
// every path.
func (p *Pipeline) processStage(ctx context.Context, downloads []download, logs []*tasks.MessageLog) {
	if len(downloads) == 0 {
		return
	}
	workers := p.cfg.OpenAI.Workers
	p.logger.Info("Processing audio files",
		zap.Int("count", len(downloads)),
		zap.Int("workers", workers))

	runPool(ctx, workers, len(downloads), func(i int) {
		item := downloads[i]
		defer p.removeTemp(item.path)
		log := logs[item.index]

		transcription, err := p.extractor.Transcribe(ctx, item.path)
		if err != nil {
			log.Error = err.Error()
			p.logger.Error("Failed to transcribe audio",
				zap.String("from", log.FromUser),
				zap.Error(err))
			return
		}
		p.logger.Debug("Transcription fragment",
			zap.String("text", clipRunes(transcription, 100)))

		records, err := p.extractor.ExtractTasks(ctx, transcription)
		if err != nil {
			log.Error = err.Error()
			p.logger.Error("Failed to extract tasks",
				zap.String("from", log.FromUser),
				zap.Error(err))
			return
		}

		storeTranscription(log, transcription,
			p.cfg.Pipeline.StoreTranscriptions.Bool(),
			p.cfg.Pipeline.TranscriptionMaxChars)
		log.Tasks = records
		p.logger.Info("Extracted tasks",
			zap.String("from", log.FromUser),
			zap.Int("count", len(records)))
	})
}

func (p *Pipeline) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("Failed to remove temp file",
			zap.String("path", path),
			zap.Error(err))
	}
}

// storeTranscription copies the transcript onto the log entry, clipped
// to the configured rune limit. A zero limit disables storage entirely;
// a negative limit stores the full text.
func storeTranscription(log *tasks.MessageLog, text string, enabled bool, limit int) {
	if !enabled || limit == 0 {
		return
	}
	runes := []rune(text)
	if limit > 0 && len(runes) > limit {
		log.Transcription = strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace) + "…"
		log.TranscriptionTruncated = true
		return
	}
	log.Transcription = text
}

func clipRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
