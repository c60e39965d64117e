// Package runlock serializes pipeline runs with an advisory file lock, so
// an overlapping cron invocation waits for the previous one instead of
// double-processing the same messages.
package runlock

import (
	"context"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const retryInterval = 500 * time.Millisecond

// Acquire blocks until the lock at path is held or ctx is done. Lock
// machinery failures are logged and the run proceeds unguarded; the lock
// is advisory. The returned func releases the lock.
func Acquire(ctx context.Context, path string, logger *zap.Logger) (func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	lock := flock.New(path)
	locked, err := lock.TryLockContext(ctx, retryInterval)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("Failed to acquire run lock, continuing without it",
			zap.String("path", path),
			zap.Error(err))
		return func() {}, nil
	}
	if !locked {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		logger.Warn("Run lock not acquired, continuing without it", zap.String("path", path))
		return func() {}, nil
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("Failed to release run lock", zap.String("path", path), zap.Error(err))
		}
	}, nil
}
