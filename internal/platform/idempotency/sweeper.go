package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweep purges expired keys every interval until ctx is cancelled.
func Sweep(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for {
				n, err := store.Purge(ctx, now.UTC(), batch)
				if err != nil {
					logger.Warn("idempotency purge failed", zap.Error(err))
					break
				}
				if n > 0 {
					logger.Debug("idempotency keys purged", zap.Int("count", n))
				}
				if batch <= 0 || n < batch {
					break
				}
			}
		}
	}
}
