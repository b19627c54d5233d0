package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/formsync/internal/domain"
	"github.com/notifyhub/formsync/internal/mapper"
	"github.com/notifyhub/formsync/internal/provider"
	"github.com/notifyhub/formsync/internal/ratelimiter"
	"github.com/notifyhub/formsync/internal/repository"
)

// PollScheduler arranges a delayed status check for a submitted batch.
type PollScheduler interface {
	SchedulePoll(batchID string)
}

// BatchResult summarises one Submit call for a destination.
type BatchResult struct {
	Destination   string   `json:"destination"`
	BatchIDs      []string `json:"batch_ids,omitempty"`
	Submitted     int      `json:"submitted"`
	MappingFailed int      `json:"mapping_failed"`
	SubmitFailed  int      `json:"submit_failed"`
	Skipped       int      `json:"skipped"`
	// Deferred items stay pending without spending an attempt, because the
	// pass stopped before they were sent.
	Deferred int `json:"deferred"`
}

type SubmitterConfig struct {
	MaxBatchOperations int
	MaxAttempts        int
}

// BatchSubmitter turns a destination group into one or more provider batches.
//
// Items are claimed in-process for the duration of a Submit so the drain tick
// and a synchronous high-priority submit never send the same item twice. The
// store transitions are compare-and-set on top of that.
type BatchSubmitter struct {
	repo   repository.QueueRepository
	prov   provider.BatchProvider
	creds  provider.CredentialProvider
	mapper mapper.Mapper
	gate   ratelimiter.Gate
	polls  PollScheduler
	cfg    SubmitterConfig
	logger *zap.Logger
	hooks  Hooks
	now    func() time.Time

	mu      sync.Mutex
	claimed map[int64]struct{}
}

func NewBatchSubmitter(
	repo repository.QueueRepository,
	prov provider.BatchProvider,
	creds provider.CredentialProvider,
	m mapper.Mapper,
	gate ratelimiter.Gate,
	polls PollScheduler,
	cfg SubmitterConfig,
	logger *zap.Logger,
	hooks Hooks,
) *BatchSubmitter {
	if cfg.MaxBatchOperations < 1 || cfg.MaxBatchOperations > domain.MaxBatchOperations {
		cfg.MaxBatchOperations = domain.MaxBatchOperations
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = domain.MaxAttempts
	}
	return &BatchSubmitter{
		repo: repo, prov: prov, creds: creds, mapper: m, gate: gate, polls: polls,
		cfg: cfg, logger: logger, hooks: hooks.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
		claimed: make(map[int64]struct{}),
	}
}

type mappedItem struct {
	item *domain.QueueItem
	op   domain.OperationDescriptor
}

// Submit maps, chunks and sends items for one destination. Per-item problems
// are recorded on the items; Submit itself never fails.
func (s *BatchSubmitter) Submit(ctx context.Context, destination string, items []*domain.QueueItem) BatchResult {
	res := BatchResult{Destination: destination}
	log := s.logger.With(zap.String("destination", destination))

	claimed := s.claim(items)
	defer s.release(claimed)

	owned, err := s.stillPending(ctx, claimed)
	if err != nil {
		log.Error("failed to verify item status", zap.Error(err))
		res.Skipped = len(items)
		return res
	}
	res.Skipped = len(items) - len(owned)

	mapped := make([]mappedItem, 0, len(owned))
	for _, item := range owned {
		op, err := s.mapper.Map(item)
		if err != nil {
			s.failUnsent(ctx, item, err.Error(), ReasonMapping, log)
			res.MappingFailed++
			continue
		}
		if op.OperationID == "" {
			op.OperationID = strconv.FormatInt(item.ID, 10)
		}
		mapped = append(mapped, mappedItem{item: item, op: op})
	}
	if len(mapped) == 0 {
		return res
	}

	apiKey, err := s.creds.APIKey(ctx, destination)
	if err != nil {
		log.Error("no credentials for destination", zap.Error(err))
		res.SubmitFailed += s.recordFailure(ctx, mapped, fmt.Sprintf("resolve credentials: %v", err), log)
		return res
	}

	for start := 0; start < len(mapped); start += s.cfg.MaxBatchOperations {
		end := min(start+s.cfg.MaxBatchOperations, len(mapped))
		chunk := mapped[start:end]

		batchID, err := s.submitChunk(ctx, apiKey, chunk, &res, log)
		if err != nil {
			res.Deferred += len(mapped) - start
			return res
		}
		if batchID != "" {
			res.BatchIDs = append(res.BatchIDs, batchID)
		}
	}
	return res
}

// submitChunk sends one chunk. An empty batch id with a nil error means the
// chunk failed and its items were updated. A non-nil error stops the pass
// for this destination and leaves the remaining items untouched.
func (s *BatchSubmitter) submitChunk(ctx context.Context, apiKey string, chunk []mappedItem, res *BatchResult, log *zap.Logger) (string, error) {
	ops := make([]domain.OperationDescriptor, len(chunk))
	ids := make([]int64, len(chunk))
	for i, m := range chunk {
		ops[i] = m.op
		ids[i] = m.item.ID
	}

	// Neither cancellation nor an unreachable gate spends an attempt: the
	// provider was never called.
	if err := s.gate.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			log.Error("rate gate unavailable, deferring destination",
				zap.Int("operations", len(ops)), zap.Error(err))
			s.hooks.OnGateError()
		}
		return "", err
	}

	batchID, err := s.prov.SubmitBatch(ctx, apiKey, ops)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn("batch submission failed", zap.Int("operations", len(ops)), zap.Error(err))
		s.hooks.OnSubmitFailure(len(ops))
		res.SubmitFailed += s.recordFailure(ctx, chunk, fmt.Sprintf("batch submission failed: %v", err), log)
		return "", nil
	}

	moved, err := s.repo.MarkProcessing(ctx, batchID, ids, s.now())
	if err != nil {
		// The provider has the batch but the store never learnt of it; the
		// items stay pending and go out again on a later tick.
		log.Error("failed to record submitted batch",
			zap.String("batch_id", batchID), zap.Error(err))
		return "", nil
	}
	if moved != int64(len(ids)) {
		log.Warn("some items changed state during submission",
			zap.String("batch_id", batchID), zap.Int64("moved", moved), zap.Int("submitted", len(ids)))
	}

	res.Submitted += int(moved)
	s.hooks.OnBatchSubmitted(len(ops))
	s.polls.SchedulePoll(batchID)
	log.Info("batch submitted", zap.String("batch_id", batchID), zap.Int("operations", len(ops)))
	return batchID, nil
}

// recordFailure spends one attempt on every item of a failed chunk. Items
// reaching the cap fail in the same write.
func (s *BatchSubmitter) recordFailure(ctx context.Context, chunk []mappedItem, msg string, log *zap.Logger) int {
	ids := make([]int64, len(chunk))
	exhausted := 0
	for i, m := range chunk {
		ids[i] = m.item.ID
		if m.item.Attempts+1 >= s.cfg.MaxAttempts {
			exhausted++
		}
	}
	if _, err := s.repo.RecordSubmitFailure(ctx, ids, msg, s.cfg.MaxAttempts, s.now()); err != nil {
		log.Error("failed to record submission failure", zap.Error(err))
		return 0
	}
	for i := 0; i < exhausted; i++ {
		s.hooks.OnItemFailed(ReasonSubmit)
	}
	return len(ids)
}

func (s *BatchSubmitter) failUnsent(ctx context.Context, item *domain.QueueItem, msg, reason string, log *zap.Logger) {
	ok, err := s.repo.MarkUnsentFailed(ctx, item.ID, msg, s.now())
	if err != nil {
		log.Error("failed to mark item failed", zap.Int64("item_id", item.ID), zap.Error(err))
		return
	}
	if ok {
		s.hooks.OnItemFailed(reason)
		log.Warn("item failed before submission", zap.Int64("item_id", item.ID), zap.String("reason", msg))
	}
}

func (s *BatchSubmitter) claim(items []*domain.QueueItem) []*domain.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := make([]*domain.QueueItem, 0, len(items))
	for _, item := range items {
		if item.Status != domain.StatusPending {
			continue
		}
		if _, busy := s.claimed[item.ID]; busy {
			continue
		}
		s.claimed[item.ID] = struct{}{}
		owned = append(owned, item)
	}
	return owned
}

// stillPending drops claimed items that another submit already moved on
// between selection and claim.
func (s *BatchSubmitter) stillPending(ctx context.Context, items []*domain.QueueItem) ([]*domain.QueueItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	pending, err := s.repo.StillPending(ctx, ids)
	if err != nil {
		return nil, err
	}
	live := make(map[int64]bool, len(pending))
	for _, id := range pending {
		live[id] = true
	}
	out := make([]*domain.QueueItem, 0, len(items))
	for _, item := range items {
		if live[item.ID] {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *BatchSubmitter) release(items []*domain.QueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		delete(s.claimed, item.ID)
	}
}
