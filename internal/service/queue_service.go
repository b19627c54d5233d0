package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/formsync/internal/domain"
	"github.com/notifyhub/formsync/internal/repository"
	"github.com/notifyhub/formsync/internal/worker"
)

// Dispatcher is the part of the pipeline the service drives directly.
type Dispatcher interface {
	Drain(ctx context.Context) (*worker.DrainReport, error)
	SubmitNow(ctx context.Context, item *domain.QueueItem) worker.BatchResult
}

// QueueService is the entry point for callers. Enqueue is the only place a
// caller gets a synchronous error; everything after that is recorded on the
// item itself.
type QueueService struct {
	repo       repository.QueueRepository
	dispatcher Dispatcher
	logger     *zap.Logger
	onEnqueued func(domain.Priority)
}

func NewQueueService(
	repo repository.QueueRepository,
	dispatcher Dispatcher,
	logger *zap.Logger,
	onEnqueued func(domain.Priority),
) *QueueService {
	if onEnqueued == nil {
		onEnqueued = func(domain.Priority) {}
	}
	return &QueueService{repo: repo, dispatcher: dispatcher, logger: logger, onEnqueued: onEnqueued}
}

// Enqueue validates and stores a submission. High priority items are
// submitted as a singleton batch before Enqueue returns; the returned item
// reflects the state after that attempt.
func (s *QueueService) Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.QueueItem, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	item := &domain.QueueItem{
		FormID:    req.FormID,
		Payload:   req.SubmissionData,
		Settings:  req.Settings,
		Priority:  req.Priority,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.repo.Enqueue(ctx, item); err != nil {
		return nil, fmt.Errorf("persist queue item: %w", err)
	}
	s.onEnqueued(item.Priority)

	log := s.logger.With(zap.Int64("item_id", item.ID), zap.String("form_id", item.FormID))
	if item.Priority != domain.PriorityHigh {
		log.Debug("submission queued")
		return item, nil
	}

	res := s.dispatcher.SubmitNow(ctx, item)
	log.Info("high priority submission dispatched",
		zap.Strings("batch_ids", res.BatchIDs),
		zap.Int("submitted", res.Submitted))

	current, err := s.repo.GetByID(ctx, item.ID)
	if err != nil {
		// The item is stored; only the refreshed view is missing.
		log.Warn("failed to reload item after dispatch", zap.Error(err))
		return item, nil
	}
	return current, nil
}

func (s *QueueService) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	return s.repo.Stats(ctx)
}

// ForceDrain runs one submitter pass now, waiting for a running tick first.
func (s *QueueService) ForceDrain(ctx context.Context) (*worker.DrainReport, error) {
	return s.dispatcher.Drain(ctx)
}

func (s *QueueService) GetItem(ctx context.Context, id int64) (*domain.QueueItem, error) {
	return s.repo.GetByID(ctx, id)
}
