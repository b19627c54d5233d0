package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/formsync/internal/repository"
)

// RetentionSweeper deletes terminal items older than the retention window.
type RetentionSweeper struct {
	repo      repository.QueueRepository
	retention time.Duration
	logger    *zap.Logger
	hooks     Hooks
	now       func() time.Time
}

func NewRetentionSweeper(repo repository.QueueRepository, retention time.Duration, logger *zap.Logger, hooks Hooks) *RetentionSweeper {
	return &RetentionSweeper{
		repo: repo, retention: retention, logger: logger,
		hooks: hooks.withDefaults(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Sweep is idempotent; it returns how many items were removed.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.repo.DeleteOlderThan(ctx, cutoff, repository.TerminalStatuses)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	if n > 0 {
		s.hooks.OnSwept(n)
		s.logger.Info("swept expired items", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
