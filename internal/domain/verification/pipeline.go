package verification

import (
	"context"
	"errors"
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
	tracer         = otel.Tracer("accountlink/verification")
	meter          = otel.Meter("accountlink/verification")
	checkTotal, _  = meter.Int64Counter("verification.check.total", metric.WithDescription("Verification checks finished by status"))
	runDuration, _ = meter.Float64Histogram("verification.run.duration", metric.WithDescription("Verification run duration in seconds"), metric.WithUnit("s"))
)

// ErrAlreadyRunning is returned when Run is called on a pipeline mid-run.
var ErrAlreadyRunning = errors.New("verification already running")

// State is the pipeline-level state.
type State string

const (
	StateStart   State = "start"
	StateRunning State = "running"
	StateResults State = "results"
)

// Overall is the tri-state classification of a finished run.
type Overall string

const (
	OverallPass Overall = "pass"
	OverallWarn Overall = "warn"
	OverallFail Overall = "fail"
)

// Status maps the classification onto the account status it implies.
func (o Overall) Status() account.Status {
	switch o {
	case OverallFail:
		return account.StatusError
	case OverallWarn:
		return account.StatusVerificationRequired
	default:
		return account.StatusConnected
	}
}

// Outcome thresholds over a uniform draw in [0, 1).
const (
	failBelow    = 0.05
	warningBelow = 0.20
)

// Check is the observable state of one catalog entry.
type Check struct {
	ID          CheckID     `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message,omitempty"`
	Details     []string    `json:"details,omitempty"`
}

// Snapshot is a copy of the pipeline state safe to hand out.
type Snapshot struct {
	State       State      `json:"state"`
	Checks      []Check    `json:"checks"`
	Overall     Overall    `json:"overall,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Observer is notified after every check transition.
type Observer func(Check)

// Timing bounds the simulated duration of a single check.
type Timing struct {
	MinCheck time.Duration
	MaxCheck time.Duration
}

// DefaultTiming is 0.8-2s per check.
func DefaultTiming() Timing {
	return Timing{MinCheck: 800 * time.Millisecond, MaxCheck: 2 * time.Second}
}

// Pipeline runs the catalog sequentially. Every check always runs; a failure
// never stops the ones after it.
type Pipeline struct {
	mu          sync.Mutex
	state       State
	checks      []Check
	overall     Overall
	startedAt   *time.Time
	completedAt *time.Time

	src      simulate.Source
	clock    clockwork.Clock
	timing   Timing
	observer Observer
	logger   *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver registers a callback for check transitions.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// NewPipeline creates a pipeline in the start state.
func NewPipeline(src simulate.Source, clock clockwork.Clock, timing Timing, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:    src,
		clock:  clock,
		timing: timing,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.reset()
	return p
}

// Run executes all checks and returns the final snapshot. A pipeline holding
// results starts over. If ctx is cancelled the pipeline returns to start.
func (p *Pipeline) Run(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	if p.state == StateRunning {
		p.mu.Unlock()
		return Snapshot{}, ErrAlreadyRunning
	}
	p.reset()
	p.state = StateRunning
	started := p.clock.Now()
	p.startedAt = &started
	p.mu.Unlock()

	ctx, span := tracer.Start(ctx, "verification.run",
		trace.WithAttributes(attribute.Int("checks", len(catalog))),
	)
	defer span.End()

	for i := range catalog {
		if err := p.runCheck(ctx, i); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Info("verification interrupted", zap.Error(err))

			p.mu.Lock()
			p.reset()
			p.mu.Unlock()
			return Snapshot{}, err
		}
	}

	p.mu.Lock()
	p.overall = Classify(p.checks)
	p.state = StateResults
	completed := p.clock.Now()
	p.completedAt = &completed
	snap := p.snapshotLocked()
	p.mu.Unlock()

	span.SetAttributes(attribute.String("overall", string(snap.Overall)))
	runDuration.Record(ctx, completed.Sub(started).Seconds())
	p.logger.Info("verification complete",
		zap.String("overall", string(snap.Overall)),
		zap.Duration("elapsed", completed.Sub(started)),
	)
	return snap, nil
}

func (p *Pipeline) runCheck(ctx context.Context, i int) error {
	def := catalog[i]
	ctx, span := tracer.Start(ctx, "verification.check",
		trace.WithAttributes(attribute.String("check.id", string(def.ID))),
	)
	defer span.End()

	p.transition(i, StatusRunning, Outcome{})

	if err := simulate.Wait(ctx, p.clock, simulate.Between(p.src, p.timing.MinCheck, p.timing.MaxCheck)); err != nil {
		return err
	}

	status := drawStatus(p.src.Float64())
	p.transition(i, status, def.Outcomes[status])

	span.SetAttributes(attribute.String("check.status", string(status)))
	checkTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("check", string(def.ID)),
		attribute.String("status", string(status)),
	))
	return nil
}

func (p *Pipeline) transition(i int, status CheckStatus, out Outcome) {
	p.mu.Lock()
	c := &p.checks[i]
	c.Status = status
	c.Message = out.Message
	c.Details = append([]string(nil), out.Details...)
	snapshot := *c
	snapshot.Details = append([]string(nil), c.Details...)
	p.mu.Unlock()

	if p.observer != nil {
		p.observer(snapshot)
	}
}

func drawStatus(r float64) CheckStatus {
	switch {
	case r < failBelow:
		return StatusFailed
	case r < warningBelow:
		return StatusWarning
	default:
		return StatusPassed
	}
}

// Retry discards the previous run: every check goes back to pending with no
// message, and the pipeline returns to start. There is no per-check retry.
func (p *Pipeline) Retry() (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRunning {
		return Snapshot{}, ErrAlreadyRunning
	}
	p.reset()
	return p.snapshotLocked(), nil
}

// Snapshot returns a copy of the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// reset requires p.mu to be held (or p to be unshared).
func (p *Pipeline) reset() {
	p.state = StateStart
	p.overall = ""
	p.startedAt = nil
	p.completedAt = nil
	p.checks = make([]Check, len(catalog))
	for i, def := range catalog {
		p.checks[i] = Check{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Status:      StatusPending,
		}
	}
}

func (p *Pipeline) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:   p.state,
		Checks:  make([]Check, len(p.checks)),
		Overall: p.overall,
	}
	for i, c := range p.checks {
		c.Details = append([]string(nil), c.Details...)
		snap.Checks[i] = c
	}
	if p.startedAt != nil {
		t := *p.startedAt
		snap.StartedAt = &t
	}
	if p.completedAt != nil {
		t := *p.completedAt
		snap.CompletedAt = &t
	}
	return snap
}

// Classify reduces finished checks to the overall outcome: any failure wins,
// then any warning, otherwise pass.
func Classify(checks []Check) Overall {
	overall := OverallPass
	for _, c := range checks {
		switch c.Status {
		case StatusFailed:
			return OverallFail
		case StatusWarning:
			overall = OverallWarn
		}
	}
	return overall
}

// Apply returns copies of records all carrying the status implied by overall.
// The classification is batch-wide, never per account.
func Apply(records []account.Record, overall Overall) []account.Record {
	return account.WithStatus(records, overall.Status())
}

// Reset returns copies of records back in the unverified connecting state.
func Reset(records []account.Record) []account.Record {
	return account.WithStatus(records, account.StatusConnecting)
}
