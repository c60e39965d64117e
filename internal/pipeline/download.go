package pipeline

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/tasks"
	"github.com/birchwoodlabs/voicetask/internal/telegram"
)

// download pairs a discovery index with the temp file holding its audio.
type download struct {
	index int
	path  string
}

// downloadStage fetches every discovered message into a temp file on a
// bounded worker pool. A failed download is recorded on the message log
// and the message drops out of the later stages.
func (p *Pipeline) downloadStage(ctx context.Context, msgs []telegram.VoiceMessage, logs []*tasks.MessageLog) []download {
	if len(msgs) == 0 {
		return nil
	}
	workers := p.cfg.Pipeline.DownloadWorkers
	p.logger.Info("Downloading audio files",
		zap.Int("count", len(msgs)),
		zap.Int("workers", workers))

	paths := make([]string, len(msgs))
	runPool(ctx, workers, len(msgs), func(i int) {
		msg := &msgs[i]
		p.logger.Info("Fetching audio",
			zap.String("from", msg.FromUser),
			zap.String("kind", msg.Kind),
			zap.Bool("forwarded", msg.IsForwarded))

		path, err := p.fetchAudio(ctx, msg)
		if err != nil {
			logs[i].Error = err.Error()
			p.logger.Error("Failed to download audio",
				zap.String("from", msg.FromUser),
				zap.Error(err))
			return
		}
		paths[i] = path
		p.logger.Info("Audio file downloaded", zap.String("path", path))
	})

	var out []download
	for i, path := range paths {
		if path != "" {
			out = append(out, download{index: i, path: path})
		}
	}
	return out
}

// fetchAudio downloads one message into a fresh temp file, removing the
// file again if the download fails.
func (p *Pipeline) fetchAudio(ctx context.Context, msg *telegram.VoiceMessage) (string, error) {
	tmp, err := os.CreateTemp(p.tempDir, "voicetask-*"+msg.Suffix())
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	path := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := p.source.Download(ctx, msg.FileID, path); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
