package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/formsync/internal/domain"
	"github.com/notifyhub/formsync/internal/provider"
	"github.com/notifyhub/formsync/internal/ratelimiter"
	"github.com/notifyhub/formsync/internal/repository"
)

// Outcome is the result of one status check.
type Outcome string

const (
	OutcomeFinished  Outcome = "finished"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Done reports whether polling of the batch should stop.
func (o Outcome) Done() bool {
	return o != OutcomePending
}

const (
	msgBatchFailed  = "batch processing failed"
	msgPollTimedOut = "batch status polling timed out"
)

// StatusPoller checks whether a submitted batch has finished and hands
// finished batches to the reconciler.
type StatusPoller struct {
	repo       repository.QueueRepository
	prov       provider.BatchProvider
	creds      provider.CredentialProvider
	gate       ratelimiter.Gate
	reconciler *ResultReconciler
	// maxDuration caps how long a batch may stay unfinished; zero means never.
	maxDuration time.Duration
	logger      *zap.Logger
	hooks       Hooks
	now         func() time.Time
}

func NewStatusPoller(
	repo repository.QueueRepository,
	prov provider.BatchProvider,
	creds provider.CredentialProvider,
	gate ratelimiter.Gate,
	reconciler *ResultReconciler,
	maxDuration time.Duration,
	logger *zap.Logger,
	hooks Hooks,
) *StatusPoller {
	return &StatusPoller{
		repo: repo, prov: prov, creds: creds, gate: gate, reconciler: reconciler,
		maxDuration: maxDuration, logger: logger, hooks: hooks.withDefaults(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Poll loads the batch's items and runs CheckStatus on them.
func (p *StatusPoller) Poll(ctx context.Context, batchID string) (Outcome, error) {
	items, err := p.repo.FindByBatch(ctx, batchID)
	if err != nil {
		return OutcomePending, fmt.Errorf("load batch %s: %w", batchID, err)
	}
	return p.CheckStatus(ctx, batchID, items)
}

// CheckStatus queries the provider once. A returned error is transient and
// leaves the batch to be checked again.
func (p *StatusPoller) CheckStatus(ctx context.Context, batchID string, items []*domain.QueueItem) (Outcome, error) {
	log := p.logger.With(zap.String("batch_id", batchID))

	open := processing(items)
	if len(open) == 0 {
		log.Info("no processing items left, dropping poll")
		return OutcomeAbandoned, nil
	}

	if p.maxDuration > 0 {
		if since := earliestProcessing(open); since != nil && p.now().Sub(*since) > p.maxDuration {
			log.Warn("batch exceeded max poll duration", zap.Duration("max", p.maxDuration))
			p.failBatch(ctx, batchID, open, msgPollTimedOut, ReasonPollTimeout)
			return OutcomeTimedOut, nil
		}
	}

	destination := open[0].Settings.DestinationKey()
	apiKey, err := p.creds.APIKey(ctx, destination)
	if err != nil {
		return OutcomePending, fmt.Errorf("resolve credentials: %w", err)
	}
	if err := p.gate.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			p.hooks.OnGateError()
		}
		return OutcomePending, fmt.Errorf("rate gate: %w", err)
	}

	status, err := p.prov.GetBatch(ctx, apiKey, batchID)
	if err != nil {
		return OutcomePending, fmt.Errorf("get batch %s: %w", batchID, err)
	}
	p.hooks.OnPoll(pollLabel(status.Status))
	if status.ID == "" {
		status.ID = batchID
	}

	switch {
	case status.IsFinished():
		if _, err := p.reconciler.Reconcile(ctx, status, items); err != nil {
			return OutcomePending, err
		}
		return OutcomeFinished, nil
	case status.IsFatal():
		log.Warn("provider reported batch failure", zap.String("status", status.Status))
		p.failBatch(ctx, batchID, open, msgBatchFailed, ReasonBatchFatal)
		return OutcomeFailed, nil
	default:
		log.Debug("batch still running",
			zap.String("status", status.Status),
			zap.Int("finished", status.FinishedOperations),
			zap.Int("total", status.TotalOperations))
		return OutcomePending, nil
	}
}

func (p *StatusPoller) failBatch(ctx context.Context, batchID string, items []*domain.QueueItem, msg, reason string) {
	for _, item := range items {
		ok, err := p.repo.MarkFailed(ctx, item.ID, batchID, msg, p.now())
		if err != nil {
			p.logger.Error("failed to mark item failed",
				zap.Int64("item_id", item.ID), zap.String("batch_id", batchID), zap.Error(err))
			continue
		}
		if ok {
			p.hooks.OnItemFailed(reason)
		}
	}
}

func processing(items []*domain.QueueItem) []*domain.QueueItem {
	var out []*domain.QueueItem
	for _, item := range items {
		if item.Status == domain.StatusProcessing {
			out = append(out, item)
		}
	}
	return out
}

func earliestProcessing(items []*domain.QueueItem) *time.Time {
	var earliest *time.Time
	for _, item := range items {
		if item.ProcessingAt != nil && (earliest == nil || item.ProcessingAt.Before(*earliest)) {
			earliest = item.ProcessingAt
		}
	}
	return earliest
}

// pollLabel keeps the poll metric's status label to the known provider states.
func pollLabel(status string) string {
	switch status {
	case domain.BatchStatusPending, domain.BatchStatusPreprocessing, domain.BatchStatusStarted,
		domain.BatchStatusFinalizing, domain.BatchStatusFinished, domain.BatchStatusFailed,
		domain.BatchStatusCanceled:
		return status
	}
	return "other"
}
