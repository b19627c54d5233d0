package worker

import "github.com/notifyhub/formsync/internal/domain"

// Failure reasons reported through Hooks.OnItemFailed.
const (
	ReasonNoDestination = "no_destination"
	ReasonMapping       = "mapping"
	ReasonSubmit        = "submit"
	ReasonBatchFatal    = "batch_fatal"
	ReasonOperation     = "operation"
	ReasonMissingResult = "missing_result"
	ReasonPollTimeout   = "poll_timeout"
)

// Hooks carries the metric callbacks injected by main so the pipeline stays
// metrics-agnostic. Nil fields are no-ops.
type Hooks struct {
	OnBatchSubmitted func(operations int)
	OnSubmitFailure  func(items int)
	OnGateError      func()
	OnItemCompleted  func()
	OnItemFailed     func(reason string)
	OnPoll           func(status string)
	OnSwept          func(n int64)
	OnStats          func(stats *domain.QueueStats)
}

func (h Hooks) withDefaults() Hooks {
	if h.OnBatchSubmitted == nil {
		h.OnBatchSubmitted = func(int) {}
	}
	if h.OnSubmitFailure == nil {
		h.OnSubmitFailure = func(int) {}
	}
	if h.OnGateError == nil {
		h.OnGateError = func() {}
	}
	if h.OnItemCompleted == nil {
		h.OnItemCompleted = func() {}
	}
	if h.OnItemFailed == nil {
		h.OnItemFailed = func(string) {}
	}
	if h.OnPoll == nil {
		h.OnPoll = func(string) {}
	}
	if h.OnSwept == nil {
		h.OnSwept = func(int64) {}
	}
	if h.OnStats == nil {
		h.OnStats = func(*domain.QueueStats) {}
	}
	return h
}
