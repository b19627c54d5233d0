package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/formsync/internal/archive"
	"github.com/notifyhub/formsync/internal/domain"
	"github.com/notifyhub/formsync/internal/provider"
	"github.com/notifyhub/formsync/internal/repository"
)

const (
	msgMissingResult   = "missing result for operation"
	msgNoResults       = "batch finished without results"
	msgUnreadableBatch = "batch results could not be parsed"
)

// ReconcileReport counts the transitions made for one finished batch.
type ReconcileReport struct {
	Completed int
	Failed    int
	// Unchanged items were no longer processing in this batch when written.
	Unchanged int
}

// ResultReconciler maps the per-operation results of a finished batch back
// onto its items.
type ResultReconciler struct {
	repo     repository.QueueRepository
	prov     provider.BatchProvider
	archiver archive.ResultArchiver
	logger   *zap.Logger
	hooks    Hooks
	now      func() time.Time
}

func NewResultReconciler(
	repo repository.QueueRepository,
	prov provider.BatchProvider,
	archiver archive.ResultArchiver,
	logger *zap.Logger,
	hooks Hooks,
) *ResultReconciler {
	if archiver == nil {
		archiver = archive.Nop{}
	}
	return &ResultReconciler{
		repo: repo, prov: prov, archiver: archiver, logger: logger,
		hooks: hooks.withDefaults(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile downloads the results of a finished batch and settles every item.
// items are the batch's items in submission order. A returned error means
// the results could not be fetched and the caller should try again later.
func (r *ResultReconciler) Reconcile(ctx context.Context, status *domain.BatchStatus, items []*domain.QueueItem) (ReconcileReport, error) {
	log := r.logger.With(zap.String("batch_id", status.ID))

	if status.ResponseBodyURL == "" {
		log.Warn("finished batch has no result url")
		return r.failAll(ctx, status.ID, items, msgNoResults, ReasonMissingResult), nil
	}

	raw, err := r.prov.DownloadResults(ctx, status.ResponseBodyURL)
	if errors.Is(err, provider.ErrResultsTooLarge) {
		log.Error("batch results too large to reconcile", zap.Error(err))
		return r.failAll(ctx, status.ID, items, msgUnreadableBatch, ReasonMissingResult), nil
	}
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("download results of batch %s: %w", status.ID, err)
	}

	if err := r.archiver.Archive(ctx, status.ID, raw); err != nil {
		log.Warn("failed to archive batch results", zap.Error(err))
	}

	results, err := provider.ParseResults(raw)
	if err != nil {
		log.Error("unreadable batch results", zap.Error(err))
		return r.failAll(ctx, status.ID, items, msgUnreadableBatch, ReasonMissingResult), nil
	}
	if len(results) != len(items) {
		log.Warn("result count differs from batch size",
			zap.Int("results", len(results)), zap.Int("items", len(items)))
	}

	assigned := assignResults(items, results)

	var report ReconcileReport
	for _, item := range items {
		res, ok := assigned[item.ID]
		switch {
		case !ok:
			r.settle(ctx, status.ID, item, false, msgMissingResult, ReasonMissingResult, &report)
		case res.Succeeded():
			r.settle(ctx, status.ID, item, true, "", "", &report)
		default:
			r.settle(ctx, status.ID, item, false, operationError(res), ReasonOperation, &report)
		}
	}

	log.Info("batch reconciled",
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("unchanged", report.Unchanged))
	return report, nil
}

// assignResults pairs results with items. When every result names an item of
// the batch by operation id, ids decide; otherwise result i goes to the item
// submitted at position i.
func assignResults(items []*domain.QueueItem, results []domain.OperationResult) map[int64]domain.OperationResult {
	out := make(map[int64]domain.OperationResult, len(results))

	inBatch := make(map[string]int64, len(items))
	for _, item := range items {
		inBatch[strconv.FormatInt(item.ID, 10)] = item.ID
	}
	byID := len(results) > 0
	for _, res := range results {
		if _, ok := inBatch[res.OperationID]; !ok {
			byID = false
			break
		}
	}
	if byID {
		for _, res := range results {
			id := inBatch[res.OperationID]
			if _, dup := out[id]; !dup {
				out[id] = res
			}
		}
		return out
	}

	byPosition := make(map[int]int64, len(items))
	for i, item := range items {
		pos := i
		if item.BatchPosition != nil {
			pos = *item.BatchPosition
		}
		byPosition[pos] = item.ID
	}
	for i, res := range results {
		if id, ok := byPosition[i]; ok {
			out[id] = res
		}
	}
	return out
}

func operationError(res domain.OperationResult) string {
	if detail := provider.ErrorDetail(res.Response); detail != "" {
		return detail
	}
	return fmt.Sprintf("operation failed with status %d", res.StatusCode)
}

func (r *ResultReconciler) settle(ctx context.Context, batchID string, item *domain.QueueItem, ok bool, msg, reason string, report *ReconcileReport) {
	var (
		changed bool
		err     error
	)
	if ok {
		changed, err = r.repo.MarkCompleted(ctx, item.ID, batchID, r.now())
	} else {
		changed, err = r.repo.MarkFailed(ctx, item.ID, batchID, msg, r.now())
	}
	if err != nil {
		r.logger.Error("failed to settle item",
			zap.Int64("item_id", item.ID), zap.String("batch_id", batchID), zap.Error(err))
		return
	}
	switch {
	case !changed:
		report.Unchanged++
	case ok:
		report.Completed++
		r.hooks.OnItemCompleted()
	default:
		report.Failed++
		r.hooks.OnItemFailed(reason)
	}
}

func (r *ResultReconciler) failAll(ctx context.Context, batchID string, items []*domain.QueueItem, msg, reason string) ReconcileReport {
	var report ReconcileReport
	for _, item := range items {
		r.settle(ctx, batchID, item, false, msg, reason, &report)
	}
	return report
}
