package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller runs one status check for a batch.
type Poller interface {
	Poll(ctx context.Context, batchID string) (Outcome, error)
}

// PollRegistry owns the one-shot status check timers, one per batch id.
// Scheduling a batch that already has a timer is a no-op, so recovery on
// start and a fresh submission can never double up a poll loop.
type PollRegistry struct {
	poller Poller
	delay  time.Duration
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func NewPollRegistry(poller Poller, delay time.Duration, logger *zap.Logger) *PollRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &PollRegistry{
		poller: poller,
		delay:  delay,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[string]*time.Timer),
	}
}

// SchedulePoll checks batchID after the configured delay and keeps checking
// at that interval until the batch settles.
func (r *PollRegistry) SchedulePoll(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	if _, ok := r.timers[batchID]; ok {
		return
	}
	r.arm(batchID)
}

// Scheduled reports whether batchID has a live poll.
func (r *PollRegistry) Scheduled(batchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[batchID]
	return ok
}

// Len returns the number of batches being polled.
func (r *PollRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// arm must be called with mu held.
func (r *PollRegistry) arm(batchID string) {
	r.timers[batchID] = time.AfterFunc(r.delay, func() { r.fire(batchID) })
}

func (r *PollRegistry) fire(batchID string) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	outcome, err := r.poller.Poll(r.ctx, batchID)
	log := r.logger.With(zap.String("batch_id", batchID), zap.String("outcome", string(outcome)))
	if err != nil {
		log.Warn("batch status check failed, will retry", zap.Error(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if err != nil || !outcome.Done() {
		r.arm(batchID)
		return
	}
	delete(r.timers, batchID)
	log.Info("batch polling finished")
}

// Stop cancels every pending timer and waits for in-flight checks.
func (r *PollRegistry) Stop() {
	r.mu.Lock()
	r.stopped = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
