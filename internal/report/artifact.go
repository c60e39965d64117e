package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/birchwoodlabs/voicetask/internal/tasks"
)

const (
	reportPrefix   = "processing_log_"
	artifactPrefix = "tasks_to_create_"
	stampLayout    = "20060102_150405"
)

// Glob patterns for the retention sweep.
const (
	ReportPattern   = reportPrefix + "*.md"
	ArtifactPattern = artifactPrefix + "*.json"
)

// WriteReport renders the markdown report into dir and returns its path.
func WriteReport(dir string, result *tasks.RunResult, now time.Time) (string, error) {
	path := filepath.Join(dir, reportPrefix+now.Format(stampLayout)+".md")
	if err := writeAtomic(path, []byte(Render(result, now))); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// WriteArtifact persists the run result as JSON into dir and returns its
// path.
func WriteArtifact(dir string, result *tasks.RunResult, now time.Time) (string, error) {
	path := filepath.Join(dir, artifactPrefix+now.Format(stampLayout)+".json")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run result: %w", err)
	}
	if err := writeAtomic(path, append(data, '\n')); err != nil {
		return "", fmt.Errorf("failed to write run result: %w", err)
	}
	return path, nil
}

// WriteArtifactTo persists the run result to an explicit path.
func WriteArtifactTo(path string, result *tasks.RunResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run result: %w", err)
	}
	if err := writeAtomic(path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write run result: %w", err)
	}
	return nil
}

// LoadArtifact reads a previously written run result.
func LoadArtifact(path string) (*tasks.RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run result: %w", err)
	}
	var result tasks.RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse run result: %w", err)
	}
	return &result, nil
}

// LatestArtifact returns the newest result artifact in dir. Timestamped
// names make the lexically last file the newest.
func LatestArtifact(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, ArtifactPattern))
	if err != nil {
		return "", fmt.Errorf("failed to scan artifacts: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no %s files in %s", ArtifactPattern, dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// CleanupOldFiles removes files matching pattern in dir whose mtime is at
// least retentionDays old. Zero or negative retention keeps everything.
func CleanupOldFiles(dir, pattern string, retentionDays int, logger *zap.Logger) {
	if retentionDays <= 0 {
		return
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		logger.Warn("Failed to scan old files", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			logger.Warn("Failed to stat old file", zap.String("path", path), zap.Error(err))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("Failed to remove old file", zap.String("path", path), zap.Error(err))
		}
	}
}

// writeAtomic writes data via a temp file rename so readers never see a
// partial file.
func writeAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
