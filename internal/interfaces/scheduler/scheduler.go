package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"accountlink/internal/domain/monitor"
)

// Config controls the periodic work. A zero TickInterval disables monitor
// ticks; the pool still serves manual syncs.
type Config struct {
	TickInterval time.Duration
	PruneEvery   time.Duration
	WorkerCount  int
	JobDelay     time.Duration
	QueueSize    int
}

// Scheduler fans monitor ticks and session pruning out to the worker pool on
// a cron schedule. Manual syncs share the same pool.
type Scheduler struct {
	cron     *cron.Cron
	pool     *WorkerPool
	monitors *monitor.Registry
	prune    *PruneJob
	cfg      Config
	logger   *zap.Logger
}

func New(cfg Config, monitors *monitor.Registry, prune *PruneJob, logger *zap.Logger) *Scheduler {
	logger = logger.Named("scheduler")
	cronLogger := cronLogger{logger: logger.Sugar()}

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		pool:     NewWorkerPool(cfg.WorkerCount, cfg.JobDelay, cfg.QueueSize, logger),
		monitors: monitors,
		prune:    prune,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start registers the schedules and launches the pool.
func (s *Scheduler) Start() error {
	if s.cfg.TickInterval > 0 {
		if _, err := s.cron.AddFunc(every(s.cfg.TickInterval), s.tickAll); err != nil {
			return fmt.Errorf("failed to schedule monitor ticks: %w", err)
		}
	}
	if s.prune != nil && s.cfg.PruneEvery > 0 {
		if _, err := s.cron.AddFunc(every(s.cfg.PruneEvery), s.submitPrune); err != nil {
			return fmt.Errorf("failed to schedule session prune: %w", err)
		}
	}

	s.pool.Start()
	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Duration("prune_every", s.cfg.PruneEvery),
	)
	return nil
}

// SubmitSync queues a manual sync for one account.
func (s *Scheduler) SubmitSync(m *monitor.Monitor, accountID string) error {
	return s.pool.Submit(NewSyncJob(m, accountID))
}

// Stop halts the schedules, waits for a running trigger, then drains the pool.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}

	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	s.pool.Shutdown(timeout)
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tickAll() {
	monitors := s.monitors.All()
	jobs := make([]Job, 0, len(monitors))
	for _, m := range monitors {
		jobs = append(jobs, NewTickJob(m))
	}
	s.pool.SubmitBatch(jobs)
}

func (s *Scheduler) submitPrune() {
	if err := s.pool.Submit(s.prune); err != nil {
		s.logger.Warn("Session prune skipped", zap.Error(err))
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
