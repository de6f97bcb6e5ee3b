package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purger deletes notifications older than a retention window.
type Purger interface {
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// RunCleanupWorker purges expired notifications every interval until ctx
// is cancelled.
func RunCleanupWorker(ctx context.Context, p Purger, interval, retention time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deleted, err := p.PurgeOlderThan(ctx, retention)
			if err != nil {
				logger.Warn("notification cleanup failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Info("expired notifications removed",
					zap.Int64("deleted", deleted),
					zap.Duration("retention", retention),
				)
			}
		}
	}
}
