package domain

import (
	"strings"
	"time"
)

// MaxAttempts is the default cap on submission attempts per item.
const MaxAttempts = 3

// MaxBatchOperations is the provider's hard limit on operations per batch.
const MaxBatchOperations = 500

// Priority controls selection order. High items also skip the drain tick
// and are submitted in the same call that enqueued them.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// Status tracks the lifecycle of a queued submission.
//
//	pending --submit ok--> processing --batch finished--> completed | failed
//	pending --submit error, attempts < max--> pending
//	pending --submit error, attempts >= max--> failed
//	pending --mapping error / no destination--> failed
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IntegrationSettings is the snapshot of the form's CRM integration taken at
// enqueue time. It is never re-read from live configuration afterwards.
type IntegrationSettings struct {
	AudienceID     string            `json:"audience_id"`
	UpdateExisting bool              `json:"update_existing"`
	DoubleOptIn    bool              `json:"double_opt_in"`
	Tags           []string          `json:"tags,omitempty"`
	EmailField     string            `json:"email_field,omitempty"`
	MergeFields    map[string]string `json:"merge_fields,omitempty"`
}

// DestinationKey is the grouping key for batching. Empty means the item
// has nowhere to go.
func (s IntegrationSettings) DestinationKey() string {
	return strings.TrimSpace(s.AudienceID)
}

func (s IntegrationSettings) Validate() error {
	if s.DestinationKey() == "" {
		return ErrNoDestination
	}
	if len(s.Tags) > 50 {
		return ErrTooManyTags
	}
	for field, tag := range s.MergeFields {
		if field == "" || strings.TrimSpace(tag) == "" {
			return ErrInvalidMergeSpec
		}
	}
	return nil
}

// QueueItem is one form submission waiting for (or done with) delivery.
type QueueItem struct {
	ID            int64               `json:"id"`
	FormID        string              `json:"form_id"`
	Payload       map[string]any      `json:"payload"`
	Settings      IntegrationSettings `json:"settings"`
	Priority      Priority            `json:"priority"`
	Status        Status              `json:"status"`
	BatchID       *string             `json:"batch_id,omitempty"`
	BatchPosition *int                `json:"batch_position,omitempty"`
	Attempts      int                 `json:"attempts"`
	ErrorMessage  *string             `json:"error_message,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	ProcessingAt  *time.Time          `json:"processing_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	FailedAt      *time.Time          `json:"failed_at,omitempty"`
}

// QueueStats is the per-status breakdown exposed to the admin view.
type QueueStats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// EnqueueRequest is the inbound payload for a single form submission.
type EnqueueRequest struct {
	FormID         string              `json:"form_id"`
	SubmissionData map[string]any      `json:"submission_data"`
	Settings       IntegrationSettings `json:"settings"`
	Priority       Priority            `json:"priority"`
}

// Validate normalises the priority and rejects malformed input. It is the
// only point where a caller gets a synchronous error back.
func (r *EnqueueRequest) Validate() error {
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	if !r.Priority.IsValid() {
		return ErrInvalidPriority
	}
	if strings.TrimSpace(r.FormID) == "" {
		return ErrInvalidFormID
	}
	if len(r.SubmissionData) == 0 {
		return ErrEmptySubmission
	}
	return r.Settings.Validate()
}
