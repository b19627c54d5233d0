package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/formsync/internal/domain"
	"github.com/notifyhub/formsync/internal/repository"
)

// DrainReport summarises one submitter pass over the pending queue.
type DrainReport struct {
	Selected int           `json:"selected"`
	Unrouted int           `json:"unrouted"`
	Batches  []BatchResult `json:"batches"`
}

// Dispatcher runs the submitter over one page of pending items. Only one
// drain runs at a time per process.
type Dispatcher struct {
	repo        repository.QueueRepository
	submitter   *BatchSubmitter
	pageSize    int
	concurrency int
	logger      *zap.Logger
	hooks       Hooks
	now         func() time.Time

	running sync.Mutex
}

func NewDispatcher(
	repo repository.QueueRepository,
	submitter *BatchSubmitter,
	pageSize, concurrency int,
	logger *zap.Logger,
	hooks Hooks,
) *Dispatcher {
	if pageSize < 1 {
		pageSize = 1000
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		repo: repo, submitter: submitter,
		pageSize: pageSize, concurrency: concurrency,
		logger: logger, hooks: hooks.withDefaults(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Drain waits for any running drain to finish, then runs one pass.
func (d *Dispatcher) Drain(ctx context.Context) (*DrainReport, error) {
	d.running.Lock()
	defer d.running.Unlock()
	return d.drain(ctx)
}

// TryDrain runs one pass unless another is already running, in which case
// it returns ran=false.
func (d *Dispatcher) TryDrain(ctx context.Context) (report *DrainReport, ran bool, err error) {
	if !d.running.TryLock() {
		return nil, false, nil
	}
	defer d.running.Unlock()
	report, err = d.drain(ctx)
	return report, true, err
}

// SubmitNow sends a single item as its own batch without waiting for a drain.
func (d *Dispatcher) SubmitNow(ctx context.Context, item *domain.QueueItem) BatchResult {
	return d.submitter.Submit(ctx, item.Settings.DestinationKey(), []*domain.QueueItem{item})
}

func (d *Dispatcher) drain(ctx context.Context) (*DrainReport, error) {
	items, err := d.repo.SelectPending(ctx, d.pageSize)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	report := &DrainReport{Selected: len(items)}
	if len(items) == 0 {
		return report, nil
	}

	grouping := Group(items)
	for _, item := range grouping.Unrouted {
		ok, err := d.repo.MarkUnsentFailed(ctx, item.ID, domain.ErrNoDestination.Error(), d.now())
		if err != nil {
			d.logger.Error("failed to mark unrouted item", zap.Int64("item_id", item.ID), zap.Error(err))
			continue
		}
		if ok {
			report.Unrouted++
			d.hooks.OnItemFailed(ReasonNoDestination)
		}
	}

	results := make([]BatchResult, len(grouping.Order))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, key := range grouping.Order {
		g.Go(func() error {
			results[i] = d.submitter.Submit(ctx, key, grouping.Groups[key])
			return nil
		})
	}
	_ = g.Wait()
	report.Batches = results

	d.logger.Info("drain finished",
		zap.Int("selected", report.Selected),
		zap.Int("destinations", len(grouping.Order)),
		zap.Int("unrouted", report.Unrouted))
	return report, ctx.Err()
}
