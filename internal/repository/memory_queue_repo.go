package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/formsync/internal/domain"
)

// MemoryQueueRepository is a hand-written, in-memory QueueRepository. It
// backs unit tests and the QUEUE_BACKEND=memory mode for local runs; state
// does not survive a restart.
type MemoryQueueRepository struct {
	mu     sync.RWMutex
	items  map[int64]*domain.QueueItem
	nextID int64

	// Optional error overrides, set in tests to simulate failure paths.
	EnqueueErr       error
	SelectPendingErr error
	StatsErr         error
}

func NewMemoryQueueRepository() *MemoryQueueRepository {
	return &MemoryQueueRepository{items: make(map[int64]*domain.QueueItem)}
}

func (m *MemoryQueueRepository) Enqueue(_ context.Context, item *domain.QueueItem) (int64, error) {
	if m.EnqueueErr != nil {
		return 0, m.EnqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	item.ID = m.nextID
	item.Status = domain.StatusPending
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	m.items[item.ID] = cloneItem(item)
	return item.ID, nil
}

// Put stores item verbatim, keeping its id, status and timestamps. Tests use
// it to seed records in states Enqueue cannot produce.
func (m *MemoryQueueRepository) Put(item *domain.QueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == 0 {
		m.nextID++
		item.ID = m.nextID
	} else if item.ID > m.nextID {
		m.nextID = item.ID
	}
	m.items[item.ID] = cloneItem(item)
}

func (m *MemoryQueueRepository) GetByID(_ context.Context, id int64) (*domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneItem(item), nil
}

func (m *MemoryQueueRepository) SelectPending(_ context.Context, limit int) ([]*domain.QueueItem, error) {
	if m.SelectPendingErr != nil {
		return nil, m.SelectPendingErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []*domain.QueueItem
	for _, item := range m.items {
		if item.Status == domain.StatusPending {
			pending = append(pending, cloneItem(item))
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if ra, rb := priorityRank(a.Priority), priorityRank(b.Priority); ra != rb {
			return ra > rb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *MemoryQueueRepository) FindByBatch(_ context.Context, batchID string) ([]*domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.QueueItem
	for _, item := range m.items {
		if item.BatchID != nil && *item.BatchID == batchID {
			result = append(result, cloneItem(item))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch {
		case a.BatchPosition != nil && b.BatchPosition != nil && *a.BatchPosition != *b.BatchPosition:
			return *a.BatchPosition < *b.BatchPosition
		case a.BatchPosition != nil && b.BatchPosition == nil:
			return true
		case a.BatchPosition == nil && b.BatchPosition != nil:
			return false
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (m *MemoryQueueRepository) ProcessingBatchIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, item := range m.items {
		if item.Status != domain.StatusProcessing || item.BatchID == nil || seen[*item.BatchID] {
			continue
		}
		seen[*item.BatchID] = true
		ids = append(ids, *item.BatchID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryQueueRepository) StillPending(_ context.Context, ids []int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []int64
	for _, id := range ids {
		if item, ok := m.items[id]; ok && item.Status == domain.StatusPending {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

func (m *MemoryQueueRepository) MarkProcessing(_ context.Context, batchID string, ids []int64, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for pos, id := range ids {
		item, ok := m.items[id]
		if !ok || item.Status != domain.StatusPending {
			continue
		}
		b, p, ts := batchID, pos, at
		item.Status = domain.StatusProcessing
		item.BatchID = &b
		item.BatchPosition = &p
		item.ProcessingAt = &ts
		n++
	}
	return n, nil
}

func (m *MemoryQueueRepository) RecordSubmitFailure(_ context.Context, ids []int64, errMsg string, maxAttempts int, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, id := range ids {
		item, ok := m.items[id]
		if !ok || item.Status != domain.StatusPending {
			continue
		}
		msg := errMsg
		if item.Attempts < maxAttempts {
			item.Attempts++
		}
		item.ErrorMessage = &msg
		if item.Attempts >= maxAttempts {
			ts := at
			item.Status = domain.StatusFailed
			item.FailedAt = &ts
		}
		n++
	}
	return n, nil
}

func (m *MemoryQueueRepository) MarkUnsentFailed(_ context.Context, id int64, errMsg string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || item.Status != domain.StatusPending {
		return false, nil
	}
	msg, ts := errMsg, at
	item.Status = domain.StatusFailed
	item.ErrorMessage = &msg
	item.FailedAt = &ts
	return true, nil
}

func (m *MemoryQueueRepository) MarkCompleted(_ context.Context, id int64, batchID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || !inBatch(item, batchID) {
		return false, nil
	}
	ts := at
	item.Status = domain.StatusCompleted
	item.CompletedAt = &ts
	item.ErrorMessage = nil
	return true, nil
}

func (m *MemoryQueueRepository) MarkFailed(_ context.Context, id int64, batchID, errMsg string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || !inBatch(item, batchID) {
		return false, nil
	}
	msg, ts := errMsg, at
	item.Status = domain.StatusFailed
	item.ErrorMessage = &msg
	item.FailedAt = &ts
	return true, nil
}

func (m *MemoryQueueRepository) DeleteOlderThan(_ context.Context, cutoff time.Time, statuses []domain.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, item := range m.items {
		if !item.CreatedAt.Before(cutoff) {
			continue
		}
		for _, s := range statuses {
			if item.Status == s {
				delete(m.items, id)
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *MemoryQueueRepository) Stats(_ context.Context) (*domain.QueueStats, error) {
	if m.StatsErr != nil {
		return nil, m.StatsErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats domain.QueueStats
	for _, item := range m.items {
		addStatusCount(&stats, item.Status, 1)
	}
	return &stats, nil
}

func inBatch(item *domain.QueueItem, batchID string) bool {
	return item.Status == domain.StatusProcessing && item.BatchID != nil && *item.BatchID == batchID
}

func priorityRank(p domain.Priority) int {
	if p == domain.PriorityHigh {
		return 1
	}
	return 0
}

// cloneItem copies the record and its pointer fields so callers never share
// mutable state with the store.
func cloneItem(item *domain.QueueItem) *domain.QueueItem {
	c := *item
	if item.BatchID != nil {
		v := *item.BatchID
		c.BatchID = &v
	}
	if item.BatchPosition != nil {
		v := *item.BatchPosition
		c.BatchPosition = &v
	}
	if item.ErrorMessage != nil {
		v := *item.ErrorMessage
		c.ErrorMessage = &v
	}
	c.Payload = clonePayload(item.Payload)
	if item.Settings.Tags != nil {
		c.Settings.Tags = append([]string(nil), item.Settings.Tags...)
	}
	if item.Settings.MergeFields != nil {
		c.Settings.MergeFields = make(map[string]string, len(item.Settings.MergeFields))
		for k, v := range item.Settings.MergeFields {
			c.Settings.MergeFields[k] = v
		}
	}
	c.ProcessingAt = cloneTime(item.ProcessingAt)
	c.CompletedAt = cloneTime(item.CompletedAt)
	c.FailedAt = cloneTime(item.FailedAt)
	return &c
}

func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the container types a decoded JSON payload can hold.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// compile-time check that MemoryQueueRepository implements QueueRepository
var _ QueueRepository = (*MemoryQueueRepository)(nil)
