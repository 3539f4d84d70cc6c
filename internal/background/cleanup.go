package background

import (
	"context"
	"log/slog"
	"time"
)

// TokenCleaner removes stale verification tokens from storage
type TokenCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// LimiterSweeper evicts dead rate limit windows from memory
type LimiterSweeper interface {
	Sweep() int
}

// CleanupManager periodically removes consumed and expired verification
// tokens and sweeps expired rate limit windows
type CleanupManager struct {
	tokenRepo TokenCleaner
	sweeper   LimiterSweeper
	logger    *slog.Logger
	interval  time.Duration
	stopCh    chan struct{}
}

// NewCleanupManager creates a new cleanup manager. sweeper may be nil when
// the limiter backend handles its own expiry (Redis does).
func NewCleanupManager(
	tokenRepo TokenCleaner,
	sweeper LimiterSweeper,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		tokenRepo: tokenRepo,
		sweeper:   sweeper,
		logger:    logger,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := cm.tokenRepo.CleanupExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup verification tokens", slog.Any("error", err))
	} else if rowsDeleted > 0 {
		cm.logger.Info("verification token cleanup completed", slog.Int64("rows_deleted", rowsDeleted))
	}

	if cm.sweeper != nil {
		if evicted := cm.sweeper.Sweep(); evicted > 0 {
			cm.logger.Info("rate limit window sweep completed", slog.Int("windows_evicted", evicted))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
