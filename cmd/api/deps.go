package main

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"accountlink/internal/domain/account"
	"accountlink/internal/domain/connection"
	"accountlink/internal/domain/monitor"
	"accountlink/internal/domain/verification"
	"accountlink/internal/domain/wizard"
	"accountlink/internal/infrastructure/aggregator"
	"accountlink/internal/infrastructure/firebase"
	"accountlink/internal/infrastructure/memory"
	"accountlink/internal/infrastructure/rabbitmq"
	httphandlers "accountlink/internal/interfaces/http"
	"accountlink/internal/interfaces/scheduler"
	"accountlink/internal/shared/auth"
	"accountlink/internal/shared/config"
	"accountlink/internal/shared/messages"
	"accountlink/internal/shared/simulate"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	Sessions  *memory.SessionRepository
	Monitors  *monitor.Registry
	Scheduler *scheduler.Scheduler

	WizardHandler  *httphandlers.WizardHandler
	MonitorHandler *httphandlers.MonitorHandler

	// JWT is nil when authentication is disabled.
	JWT *auth.JWT

	producer *rabbitmq.EventProducer
}

type timings struct {
	connection   connection.Timing
	verification verification.Timing
	aggregator   aggregator.Config
	monitor      monitor.Config
}

// timingsFor returns the pacing of the simulated collaborators. Fast mode
// keeps the outcome odds and drops the delays.
func timingsFor(fast bool) timings {
	t := timings{
		connection:   connection.DefaultTiming(),
		verification: verification.DefaultTiming(),
		aggregator:   aggregator.DefaultConfig(),
		monitor:      monitor.DefaultConfig(),
	}
	if fast {
		t.connection = connection.Timing{}
		t.verification = verification.Timing{}
		t.aggregator.MinLatency, t.aggregator.MaxLatency = 0, 0
		t.monitor.PhaseDelay = 50 * time.Millisecond
	}
	return t
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	clock := clockwork.NewRealClock()
	src := simulate.NewSource()
	if cfg.Simulation.Seed != 0 {
		src = simulate.NewSeededSource(cfg.Simulation.Seed)
		logger.Info("Simulation seeded", zap.Uint64("seed", cfg.Simulation.Seed))
	}
	t := timingsFor(cfg.Simulation.FastTiming)

	texts, err := messages.Load(cfg.Messages.Path)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{Sessions: memory.NewSessionRepository()}

	// Completion and sync events go to every configured collaborator.
	var notifiers monitor.Notifiers
	var handoffs wizard.Handoffs
	if cfg.AMQP.URL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return nil, err
		}
		deps.producer = producer
		notifiers = append(notifiers, producer)
		handoffs = append(handoffs, producer)
	} else {
		logger.Info("AMQP_URL not set, dashboard events disabled")
	}
	if cfg.Firebase.CredentialsFile != "" {
		push, err := firebase.NewClient(ctx, cfg.Firebase.CredentialsFile, texts, logger)
		if err != nil {
			deps.Close()
			return nil, err
		}
		notifiers = append(notifiers, push)
		handoffs = append(handoffs, push)
	} else {
		logger.Info("FIREBASE_CREDENTIALS_FILE not set, push notifications disabled")
	}

	deps.Monitors = monitor.NewRegistry(func(id string, records []account.Record) *monitor.Monitor {
		return monitor.New(id, records, t.monitor, src, clock, notifiers, logger)
	}, logger)
	// The registry goes first so monitoring starts even if a broker is down.
	handoffs = append(wizard.Handoffs{deps.Monitors}, handoffs...)

	methods := []connection.Method{
		connection.NewAutomatedLink(aggregator.NewSimulated(t.aggregator, src, clock, logger), logger),
		connection.NewManualEntry(clock, t.connection, logger),
		connection.NewFileImport(clock, t.connection, logger),
		connection.NewSampleData(clock, t.connection),
	}
	pipelines := func() *verification.Pipeline {
		return verification.NewPipeline(src, clock, t.verification, logger)
	}
	orchestrator := wizard.NewOrchestrator(methods, pipelines, handoffs, clock, logger)

	// Manual syncs need the pool even when periodic ticks are disabled.
	schedCfg := scheduler.Config{
		PruneEvery:  pruneInterval(cfg.Scheduler.SessionTTL),
		WorkerCount: max(cfg.Scheduler.WorkerCount, 1),
		JobDelay:    cfg.Scheduler.JobDelay,
		QueueSize:   max(cfg.Scheduler.QueueSize, 1),
	}
	if cfg.Scheduler.Enabled {
		schedCfg.TickInterval = cfg.Scheduler.TickInterval
	} else {
		logger.Info("Monitor ticks disabled")
	}
	deps.Scheduler = scheduler.New(schedCfg, deps.Monitors, scheduler.NewPruneJob(deps.Sessions, cfg.Scheduler.SessionTTL, clock, logger), logger)

	deps.WizardHandler = httphandlers.NewWizardHandler(orchestrator, deps.Sessions, cfg.Server.MaxUploadSize, logger)
	deps.MonitorHandler = httphandlers.NewMonitorHandler(deps.Monitors, deps.Scheduler, logger)

	if cfg.AuthEnabled() {
		deps.JWT = auth.NewJWT(cfg.JWT.Secret)
	}
	return deps, nil
}

// pruneInterval checks for idle sessions a few times per TTL.
func pruneInterval(ttl time.Duration) time.Duration {
	every := ttl / 4
	if every < time.Minute {
		every = time.Minute
	}
	return every
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.producer != nil {
		d.producer.Close()
	}
}
