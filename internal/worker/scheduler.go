package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/notifyhub/formsync/internal/repository"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler drives the periodic drain and sweep, and owns the status poll
// registry. A tick never overlaps a previous one.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	sweeper    *RetentionSweeper
	polls      *PollRegistry
	repo       repository.QueueRepository
	logger     *zap.Logger
	hooks      Hooks

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(
	spec string,
	dispatcher *Dispatcher,
	sweeper *RetentionSweeper,
	polls *PollRegistry,
	repo repository.QueueRepository,
	logger *zap.Logger,
	hooks Hooks,
) (*Scheduler, error) {
	cl := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		dispatcher: dispatcher,
		sweeper:    sweeper,
		polls:      polls,
		repo:       repo,
		logger:     logger,
		hooks:      hooks.withDefaults(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := s.cron.AddFunc(spec, func() { s.Tick(s.ctx) }); err != nil {
		return nil, fmt.Errorf("invalid drain schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start resumes polling for batches left processing by a previous run and
// then starts the tick.
func (s *Scheduler) Start(ctx context.Context) error {
	ids, err := s.repo.ProcessingBatchIDs(ctx)
	if err != nil {
		return fmt.Errorf("recover processing batches: %w", err)
	}
	for _, id := range ids {
		s.polls.SchedulePoll(id)
	}
	if len(ids) > 0 {
		s.logger.Info("resumed polling for in-flight batches", zap.Int("batches", len(ids)))
	}

	s.cron.Start()
	s.logger.Info("scheduler started")
	return nil
}

// Tick runs one drain and one sweep, then publishes queue stats.
func (s *Scheduler) Tick(ctx context.Context) {
	if _, ran, err := s.dispatcher.TryDrain(ctx); err != nil {
		s.logger.Error("drain failed", zap.Error(err))
	} else if !ran {
		s.logger.Info("drain already running, skipping tick")
	}

	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.Error("retention sweep failed", zap.Error(err))
	}

	stats, err := s.repo.Stats(ctx)
	if err != nil {
		s.logger.Warn("failed to read queue stats", zap.Error(err))
		return
	}
	s.hooks.OnStats(stats)
}

// Stop halts the tick, waits for a running one, then stops all polls.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.polls.Stop()
	s.logger.Info("scheduler stopped")
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
