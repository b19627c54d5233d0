package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/notifyhub/formsync/internal/domain"
)

// MockProvider is a hand-written, in-memory BatchProvider used in unit tests.
// Submitted batches get ids "batch-1", "batch-2", ... and report the status
// stored in Statuses (default: pending).
type MockProvider struct {
	mu sync.Mutex

	Submissions [][]domain.OperationDescriptor
	Statuses    map[string]*domain.BatchStatus
	Results     map[string][]byte
	StatusCalls map[string]int

	// Optional error overrides, set in tests to simulate failure paths.
	SubmitErr   error
	GetBatchErr error
	DownloadErr error
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Statuses:    make(map[string]*domain.BatchStatus),
		Results:     make(map[string][]byte),
		StatusCalls: make(map[string]int),
	}
}

func (m *MockProvider) SubmitBatch(_ context.Context, _ string, ops []domain.OperationDescriptor) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := append([]domain.OperationDescriptor(nil), ops...)
	m.Submissions = append(m.Submissions, copied)
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	return fmt.Sprintf("batch-%d", len(m.Submissions)), nil
}

func (m *MockProvider) GetBatch(_ context.Context, _ string, batchID string) (*domain.BatchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StatusCalls[batchID]++
	if m.GetBatchErr != nil {
		return nil, m.GetBatchErr
	}
	if s, ok := m.Statuses[batchID]; ok {
		clone := *s
		return &clone, nil
	}
	return &domain.BatchStatus{ID: batchID, Status: domain.BatchStatusPending}, nil
}

// DownloadResults treats the URL as a key into Results.
func (m *MockProvider) DownloadResults(_ context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DownloadErr != nil {
		return nil, m.DownloadErr
	}
	raw, ok := m.Results[url]
	if !ok {
		return nil, fmt.Errorf("no results at %s", url)
	}
	return raw, nil
}

// Finish marks batchID finished with results served at "results/<batchID>".
func (m *MockProvider) Finish(batchID string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	url := "results/" + batchID
	m.Results[url] = raw
	m.Statuses[batchID] = &domain.BatchStatus{
		ID:              batchID,
		Status:          domain.BatchStatusFinished,
		ResponseBodyURL: url,
	}
}

// SetStatus overrides the reported status of batchID.
func (m *MockProvider) SetStatus(batchID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[batchID] = &domain.BatchStatus{ID: batchID, Status: status}
}

// SubmissionCount returns how many SubmitBatch calls were made.
func (m *MockProvider) SubmissionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Submissions)
}

// SubmittedOps returns a copy of every recorded submission.
func (m *MockProvider) SubmittedOps() [][]domain.OperationDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]domain.OperationDescriptor, len(m.Submissions))
	copy(out, m.Submissions)
	return out
}

// StatusCallCount returns how many times batchID was polled.
func (m *MockProvider) StatusCallCount(batchID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StatusCalls[batchID]
}

// compile-time check that MockProvider implements BatchProvider
var _ BatchProvider = (*MockProvider)(nil)
