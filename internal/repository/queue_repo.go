package repository

import (
	"context"
	"time"

	"github.com/notifyhub/formsync/internal/domain"
)

// QueueRepository is the Queue Store: the only shared mutable state of the
// dispatch pipeline. Every transition is a compare-and-set on the current
// status (and on batch id once submitted), never a blind overwrite, so a late
// writer cannot resurrect an item someone else already moved on.
//
// The pgx implementation is in pg_queue_repo.go; memory_queue_repo.go backs
// tests and the QUEUE_BACKEND=memory mode.
type QueueRepository interface {
	// Enqueue stores a new pending item and returns its monotonically assigned id.
	Enqueue(ctx context.Context, item *domain.QueueItem) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.QueueItem, error)

	// SelectPending returns up to limit pending items ordered by
	// priority desc, created_at asc, id asc.
	SelectPending(ctx context.Context, limit int) ([]*domain.QueueItem, error)
	// FindByBatch returns the items of a batch in submission order.
	FindByBatch(ctx context.Context, batchID string) ([]*domain.QueueItem, error)
	// ProcessingBatchIDs lists batches that still have processing items.
	ProcessingBatchIDs(ctx context.Context) ([]string, error)
	// StillPending returns the subset of ids whose current status is pending.
	StillPending(ctx context.Context, ids []int64) ([]int64, error)

	// MarkProcessing moves pending items to processing, stamping batchID and
	// each item's index within ids as its batch position. Returns rows moved.
	MarkProcessing(ctx context.Context, batchID string, ids []int64, at time.Time) (int64, error)
	// RecordSubmitFailure increments attempts on pending items; items reaching
	// maxAttempts become failed in the same write. Returns rows touched.
	RecordSubmitFailure(ctx context.Context, ids []int64, errMsg string, maxAttempts int, at time.Time) (int64, error)
	// MarkUnsentFailed fails a pending item that was never sent (no attempt increment).
	MarkUnsentFailed(ctx context.Context, id int64, errMsg string, at time.Time) (bool, error)
	// MarkCompleted and MarkFailed finish a processing item of batchID.
	MarkCompleted(ctx context.Context, id int64, batchID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, batchID, errMsg string, at time.Time) (bool, error)

	// DeleteOlderThan removes items in one of statuses created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []domain.Status) (int64, error)
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// TerminalStatuses is the status set the retention sweep deletes from.
var TerminalStatuses = []domain.Status{domain.StatusCompleted, domain.StatusFailed}

func addStatusCount(stats *domain.QueueStats, status domain.Status, n int64) {
	switch status {
	case domain.StatusPending:
		stats.Pending += n
	case domain.StatusProcessing:
		stats.Processing += n
	case domain.StatusCompleted:
		stats.Completed += n
	case domain.StatusFailed:
		stats.Failed += n
	}
	stats.Total += n
}
