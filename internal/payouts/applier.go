package payouts

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PixChangeApplier is the part of Service the background applier drives.
type PixChangeApplier interface {
	ApplyDuePixChanges(ctx context.Context) (int, error)
}

// RunPixApplier applies due PIX changes once immediately and then on every tick until ctx ends.
func RunPixApplier(ctx context.Context, applier PixChangeApplier, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		applied, err := applier.ApplyDuePixChanges(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Warn("pix change sweep failed", zap.Error(err))
		} else if applied > 0 {
			logger.Info("pix change sweep completed", zap.Int("applied", applied))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
