package domain

import "encoding/json"

// OperationDescriptor is one provider API call inside a batch.
type OperationDescriptor struct {
	Method      string          `json:"method"`
	Path        string          `json:"path"`
	Body        json.RawMessage `json:"body,omitempty"`
	OperationID string          `json:"operation_id,omitempty"`
}

// Provider-side batch states. Anything that is neither finished nor one of
// the fatal states means the batch is still running.
const (
	BatchStatusPending       = "pending"
	BatchStatusPreprocessing = "preprocessing"
	BatchStatusStarted       = "started"
	BatchStatusFinalizing    = "finalizing"
	BatchStatusFinished      = "finished"
	BatchStatusFailed        = "failed"
	BatchStatusCanceled      = "canceled"
)

// BatchStatus is the provider's view of a submitted batch.
type BatchStatus struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	TotalOperations    int    `json:"total_operations"`
	FinishedOperations int    `json:"finished_operations"`
	ErroredOperations  int    `json:"errored_operations"`
	ResponseBodyURL    string `json:"response_body_url"`
}

func (b *BatchStatus) IsFinished() bool { return b.Status == BatchStatusFinished }

func (b *BatchStatus) IsFatal() bool {
	return b.Status == BatchStatusFailed || b.Status == BatchStatusCanceled
}

// OperationResult is the outcome of a single operation in a finished batch.
// Response holds the embedded response body exactly as the provider sent it.
type OperationResult struct {
	StatusCode  int    `json:"status_code"`
	OperationID string `json:"operation_id"`
	Response    string `json:"response"`
}

func (r OperationResult) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
