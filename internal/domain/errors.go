package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound         = errors.New("not found")
	ErrNoDestination    = errors.New("no destination configured")
	ErrInvalidPriority  = errors.New("invalid priority: must be normal or high")
	ErrInvalidFormID    = errors.New("form_id must not be empty")
	ErrEmptySubmission  = errors.New("submission_data must contain at least one field")
	ErrMissingEmail     = errors.New("submission has no email address")
	ErrInvalidEmail     = errors.New("submission email address is malformed")
	ErrTooManyTags      = errors.New("settings may carry at most 50 tags")
	ErrInvalidMergeSpec = errors.New("merge_fields entries must map a form field to a non-empty merge tag")
)
