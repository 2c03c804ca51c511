package auth

import (
	"context"
	"log/slog"
	"time"
)

// RunSweepLoop periodically removes expired token records until ctx
// is cancelled.
func (s *TokenStore) RunSweepLoop(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep()
			if err != nil {
				logger.Error("auth: sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("auth: swept expired tokens", "count", n)
			}
		}
	}
}
