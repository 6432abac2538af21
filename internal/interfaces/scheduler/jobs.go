package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"accountlink/internal/domain/monitor"
)

// TickJob advances one monitor by a tick.
type TickJob struct {
	monitor *monitor.Monitor
}

func NewTickJob(m *monitor.Monitor) *TickJob {
	return &TickJob{monitor: m}
}

func (j *TickJob) Execute(ctx context.Context) error {
	return j.monitor.Tick(ctx)
}

func (j *TickJob) Key() string         { return j.monitor.ID() }
func (j *TickJob) Description() string { return "monitor tick" }

// SyncJob runs a user-requested sync of one account.
type SyncJob struct {
	monitor   *monitor.Monitor
	accountID string
}

func NewSyncJob(m *monitor.Monitor, accountID string) *SyncJob {
	return &SyncJob{monitor: m, accountID: accountID}
}

func (j *SyncJob) Execute(ctx context.Context) error {
	status, err := j.monitor.Sync(ctx, j.accountID)
	if err != nil {
		return fmt.Errorf("sync %s: %w", j.accountID, err)
	}
	if status.Phase == monitor.PhaseError {
		return fmt.Errorf("sync %s: %s", j.accountID, status.LastError)
	}
	return nil
}

func (j *SyncJob) Key() string         { return j.monitor.ID() + "/" + j.accountID }
func (j *SyncJob) Description() string { return "account sync" }

// SessionPruner drops wizard sessions untouched for longer than a TTL.
type SessionPruner interface {
	PruneIdle(cutoff time.Time) int
}

type PruneJob struct {
	sessions SessionPruner
	ttl      time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
}

func NewPruneJob(sessions SessionPruner, ttl time.Duration, clock clockwork.Clock, logger *zap.Logger) *PruneJob {
	return &PruneJob{sessions: sessions, ttl: ttl, clock: clock, logger: logger}
}

func (j *PruneJob) Execute(context.Context) error {
	if n := j.sessions.PruneIdle(j.clock.Now().Add(-j.ttl)); n > 0 {
		j.logger.Info("Pruned idle wizard sessions", zap.Int("count", n))
	}
	return nil
}

func (j *PruneJob) Key() string         { return "sessions" }
func (j *PruneJob) Description() string { return "session prune" }
