package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/notifyhub/formsync/internal/domain"
	"github.com/notifyhub/formsync/internal/metrics"
)

func TestWorkerHooks_RecordPipelineEvents(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	hooks := m.WorkerHooks()

	hooks.OnBatchSubmitted(2)
	hooks.OnBatchSubmitted(500)
	hooks.OnSubmitFailure(3)
	hooks.OnGateError()
	hooks.OnItemCompleted()
	hooks.OnItemFailed("operation")
	hooks.OnItemFailed("operation")
	hooks.OnPoll("finished")
	hooks.OnSwept(7)
	m.OnEnqueued(domain.PriorityHigh)

	if got := value(t, m.BatchesSubmitted); got != 2 {
		t.Fatalf("expected 2 batches, got %v", got)
	}
	if got := value(t, m.BatchSubmitFailures); got != 1 {
		t.Fatalf("expected 1 submit failure, got %v", got)
	}
	if got := value(t, m.RateGateErrors); got != 1 {
		t.Fatalf("expected 1 gate error, got %v", got)
	}
	if got := value(t, m.ItemsFailed.WithLabelValues("operation")); got != 2 {
		t.Fatalf("expected 2 operation failures, got %v", got)
	}
	if got := value(t, m.ItemsSwept); got != 7 {
		t.Fatalf("expected 7 swept, got %v", got)
	}
	if got := value(t, m.ItemsEnqueued.WithLabelValues("high")); got != 1 {
		t.Fatalf("expected 1 high priority enqueue, got %v", got)
	}
}

func TestObserveStats_SetsGauges(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.WorkerHooks().OnStats(&domain.QueueStats{Total: 6, Pending: 1, Processing: 2, Completed: 3})

	if got := value(t, m.QueueItems.WithLabelValues("processing")); got != 2 {
		t.Fatalf("expected processing gauge 2, got %v", got)
	}
	if got := value(t, m.QueueItems.WithLabelValues("failed")); got != 0 {
		t.Fatalf("expected failed gauge 0, got %v", got)
	}
}

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatal(err)
	}
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}
