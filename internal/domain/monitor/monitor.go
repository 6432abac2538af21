// Package monitor simulates ongoing synchronization of connected accounts and
// the aggregate health of their connections.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"accountlink/internal/domain/account"
	"accountlink/internal/shared/simulate"
)

var (
	tracer       = otel.Tracer("accountlink/monitor")
	meter        = otel.Meter("accountlink/monitor")
	syncTotal, _ = meter.Int64Counter("monitor.sync.total", metric.WithDescription("Account syncs finished by outcome"))
)

// Domain errors
var (
	ErrPaused         = errors.New("monitoring is paused")
	ErrUnknownAccount = errors.New("account is not monitored")
	ErrAlreadySyncing = errors.New("account is already syncing")
)

// Phase is the coarse state of one account's sync.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSyncing Phase = "syncing"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
	PhaseWarning Phase = "warning"
)

// SyncStatus is the per-account synchronization state.
type SyncStatus struct {
	AccountID string     `json:"accountId"`
	Phase     Phase      `json:"phase"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message,omitempty"`
	LastSync  *time.Time `json:"lastSync,omitempty"`
	NextSync  time.Time  `json:"nextSync"`
	Details   []string   `json:"details,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

func (s SyncStatus) clone() SyncStatus {
	if s.LastSync != nil {
		t := *s.LastSync
		s.LastSync = &t
	}
	s.Details = append([]string(nil), s.Details...)
	return s
}

type step struct {
	progress int
	message  string
}

// Progress of a sync, in order. Each step is followed by Config.PhaseDelay.
var syncSteps = []step{
	{10, "Connecting to institution"},
	{30, "Authenticating"},
	{55, "Downloading transactions"},
	{80, "Updating balances"},
	{100, "Finalizing"},
}

var failureReasons = []string{
	"The institution did not respond",
	"The institution asked for re-authentication",
	"The connection was interrupted",
}

// Config holds the simulation parameters.
type Config struct {
	SyncInterval   time.Duration
	PhaseDelay     time.Duration
	AutoSyncChance float64
	SuccessRate    float64
}

// DefaultConfig syncs every four hours and succeeds nine times in ten.
func DefaultConfig() Config {
	return Config{
		SyncInterval:   4 * time.Hour,
		PhaseDelay:     800 * time.Millisecond,
		AutoSyncChance: 0.10,
		SuccessRate:    0.90,
	}
}

// SyncEvent describes a finished sync.
type SyncEvent struct {
	MonitorID string         `json:"monitorId"`
	Account   account.Record `json:"account"`
	Status    SyncStatus     `json:"status"`
	Automatic bool           `json:"automatic"`
}

// Succeeded reports whether the sync completed.
func (e SyncEvent) Succeeded() bool {
	return e.Status.Phase == PhaseSuccess
}

// Notifier is told about every sync outcome.
type Notifier interface {
	SyncFinished(ctx context.Context, event SyncEvent) error
}

// Notifiers fans an event out to several notifiers.
type Notifiers []Notifier

func (n Notifiers) SyncFinished(ctx context.Context, event SyncEvent) error {
	var errs []error
	for _, notifier := range n {
		if err := notifier.SyncFinished(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Monitor owns the account batch handed over at wizard completion. Records are
// replaced wholesale on every status change and never mutated in place.
type Monitor struct {
	id string

	mu       sync.RWMutex
	accounts []account.Record
	statuses map[string]SyncStatus
	health   Health
	paused   bool

	// syncMu serializes syncs: at most one account progresses at a time.
	syncMu sync.Mutex

	cfg      Config
	src      simulate.Source
	clock    clockwork.Clock
	notifier Notifier
	logger   *zap.Logger
}

// New seeds one status per record with a recent last sync and a next sync one
// interval later. notifier may be nil.
func New(id string, records []account.Record, cfg Config, src simulate.Source, clock clockwork.Clock, notifier Notifier, logger *zap.Logger) *Monitor {
	now := clock.Now()
	m := &Monitor{
		id:       id,
		accounts: account.Clone(records),
		statuses: make(map[string]SyncStatus, len(records)),
		health:   initialHealth(now),
		cfg:      cfg,
		src:      src,
		clock:    clock,
		notifier: notifier,
		logger:   logger.With(zap.String("monitor", id)),
	}
	for _, r := range records {
		last := now.Add(-simulate.Between(src, 5*time.Minute, 120*time.Minute))
		m.statuses[r.ID] = SyncStatus{
			AccountID: r.ID,
			Phase:     PhaseIdle,
			LastSync:  &last,
			NextSync:  last.Add(cfg.SyncInterval),
		}
	}
	return m
}

// ID returns the monitor id.
func (m *Monitor) ID() string { return m.id }

// Tick advances the simulation by one interval. While paused it does nothing.
func (m *Monitor) Tick(ctx context.Context) error {
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return nil
	}
	now := m.clock.Now()
	m.health = m.health.nudge(m.src, now)
	for id, st := range m.statuses {
		if (st.Phase == PhaseIdle || st.Phase == PhaseSuccess) && now.After(st.NextSync) {
			st.Phase = PhaseWarning
			st.Message = "Data may be out of date"
			m.statuses[id] = st
		}
	}

	var target string
	if len(m.accounts) > 0 && m.src.Float64() < m.cfg.AutoSyncChance {
		target = m.accounts[m.src.IntN(len(m.accounts))].ID
	}
	m.mu.Unlock()

	if target == "" {
		return nil
	}
	if !m.syncMu.TryLock() {
		m.logger.Debug("automatic sync skipped, another sync in flight", zap.String("account", target))
		return nil
	}
	defer m.syncMu.Unlock()

	if err := m.begin(target); err != nil {
		m.logger.Debug("automatic sync skipped", zap.String("account", target), zap.Error(err))
		return nil
	}
	_, err := m.run(ctx, target, true)
	return err
}

// Sync runs a user-requested sync of one account. Requests for different
// accounts queue behind each other.
func (m *Monitor) Sync(ctx context.Context, accountID string) (SyncStatus, error) {
	if err := m.begin(accountID); err != nil {
		return SyncStatus{}, err
	}

	m.syncMu.Lock()
	defer m.syncMu.Unlock()
	// Monitoring may have been paused while this request waited its turn.
	if m.abortIfPaused(accountID) {
		return SyncStatus{}, ErrPaused
	}
	return m.run(ctx, accountID, false)
}

// abortIfPaused returns a queued account to idle when monitoring is paused.
func (m *Monitor) abortIfPaused(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		return false
	}
	st := m.statuses[accountID]
	st.Phase = PhaseIdle
	st.Progress = 0
	st.Message = ""
	m.statuses[accountID] = st
	return true
}

// begin validates the request and marks the account as syncing.
func (m *Monitor) begin(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return ErrPaused
	}
	st, ok := m.statuses[accountID]
	if !ok {
		return fmt.Errorf("%s: %w", accountID, ErrUnknownAccount)
	}
	if st.Phase == PhaseSyncing {
		return fmt.Errorf("%s: %w", accountID, ErrAlreadySyncing)
	}
	st.Phase = PhaseSyncing
	st.Progress = 0
	st.Message = "Waiting to sync"
	st.Details = nil
	m.statuses[accountID] = st
	return nil
}

// run requires syncMu to be held and the account to be marked syncing.
func (m *Monitor) run(ctx context.Context, accountID string, automatic bool) (SyncStatus, error) {
	ctx, span := tracer.Start(ctx, "monitor.sync",
		trace.WithAttributes(
			attribute.String("monitor.id", m.id),
			attribute.String("account.id", accountID),
			attribute.Bool("automatic", automatic),
		),
	)
	defer span.End()

	for _, s := range syncSteps {
		m.update(accountID, func(st *SyncStatus) {
			st.Progress = s.progress
			st.Message = s.message
		})
		if err := simulate.Wait(ctx, m.clock, m.cfg.PhaseDelay); err != nil {
			m.update(accountID, func(st *SyncStatus) {
				st.Phase = PhaseIdle
				st.Progress = 0
				st.Message = ""
			})
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return SyncStatus{}, err
		}
	}

	now := m.clock.Now()
	succeeded := m.src.Float64() < m.cfg.SuccessRate

	var status SyncStatus
	var record account.Record
	m.mu.Lock()
	st := m.statuses[accountID]
	st.NextSync = now.Add(m.cfg.SyncInterval)
	st.Progress = 100
	recordStatus := account.StatusConnected
	if succeeded {
		newTx := m.src.IntN(25)
		st.Phase = PhaseSuccess
		st.Message = "Up to date"
		st.LastSync = &now
		st.LastError = ""
		st.Details = []string{
			fmt.Sprintf("%d new transactions", newTx),
			"Balances updated",
		}
	} else {
		reason := failureReasons[m.src.IntN(len(failureReasons))]
		st.Phase = PhaseError
		st.Message = "Sync failed"
		st.LastError = reason
		st.Details = []string{reason, "Will retry automatically"}
		recordStatus = account.StatusError
	}
	m.statuses[accountID] = st
	m.accounts = m.replaceRecord(accountID, func(r *account.Record) {
		r.Status = recordStatus
		r.LastError = st.LastError
		if succeeded {
			ts := now
			r.LastSync = &ts
		}
		record = *r
	})
	status = st.clone()
	m.mu.Unlock()

	outcome := "success"
	if !succeeded {
		outcome = "failure"
		span.SetStatus(codes.Error, status.LastError)
	}
	syncTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("automatic", automatic),
	))
	m.logger.Info("account sync finished",
		zap.String("account", accountID),
		zap.String("outcome", outcome),
		zap.Bool("automatic", automatic),
	)

	if m.notifier != nil {
		event := SyncEvent{MonitorID: m.id, Account: record, Status: status, Automatic: automatic}
		if err := m.notifier.SyncFinished(ctx, event); err != nil {
			m.logger.Warn("sync notification failed", zap.String("account", accountID), zap.Error(err))
		}
	}
	return status, nil
}

func (m *Monitor) update(accountID string, fn func(*SyncStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.statuses[accountID]
	fn(&st)
	m.statuses[accountID] = st
}

// replaceRecord requires m.mu. It returns a new batch with fn applied to a copy
// of the matching record.
func (m *Monitor) replaceRecord(accountID string, fn func(*account.Record)) []account.Record {
	out := account.Clone(m.accounts)
	for i := range out {
		if out[i].ID == accountID {
			fn(&out[i])
		}
	}
	return out
}

// Pause makes ticks and manual syncs inert until Resume.
func (m *Monitor) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.logger.Info("monitoring paused")
}

// Resume re-enables ticks and manual syncs.
func (m *Monitor) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.logger.Info("monitoring resumed")
}

// Paused reports whether monitoring is paused.
func (m *Monitor) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// Health returns the aggregate snapshot.
func (m *Monitor) Health() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

// Statuses returns a copy of the per-account sync states keyed by account id.
func (m *Monitor) Statuses() map[string]SyncStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]SyncStatus, len(m.statuses))
	for id, st := range m.statuses {
		out[id] = st.clone()
	}
	return out
}

// Accounts returns a copy of the monitored batch.
func (m *Monitor) Accounts() []account.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return account.Clone(m.accounts)
}
