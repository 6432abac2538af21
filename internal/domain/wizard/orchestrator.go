package wizard

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"accountlink/internal/domain/account"
	"accountlink/internal/domain/connection"
	"accountlink/internal/domain/verification"
)

// Domain errors
var (
	ErrStepIncomplete  = errors.New("current step is not complete")
	ErrUnknownMethod   = errors.New("unknown connection method")
	ErrStaleResult     = errors.New("result discarded, the session moved on")
	ErrSessionClosed   = errors.New("wizard session is closed")
	ErrBusy            = errors.New("another operation is in progress")
	ErrSessionNotFound = errors.New("wizard session not found")
)

// Handoff receives control when a session ends. These are the only points
// where the wizard talks to the surrounding dashboard.
type Handoff interface {
	Completed(ctx context.Context, sessionID string, accounts []account.Record) error
	Cancelled(ctx context.Context, sessionID string) error
}

// Handoffs fans a handoff out to several receivers.
type Handoffs []Handoff

func (h Handoffs) Completed(ctx context.Context, sessionID string, accounts []account.Record) error {
	var errs []error
	for _, handoff := range h {
		if err := handoff.Completed(ctx, sessionID, account.Clone(accounts)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h Handoffs) Cancelled(ctx context.Context, sessionID string) error {
	var errs []error
	for _, handoff := range h {
		if err := handoff.Cancelled(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SessionRepository stores live sessions between requests.
type SessionRepository interface {
	Save(s *Session) error
	Get(id string) (*Session, error)
	Delete(id string) error
}

// PipelineFactory creates a fresh verification pipeline for a session.
type PipelineFactory func() *verification.Pipeline

// Orchestrator runs the wizard state machine over explicit sessions.
type Orchestrator struct {
	methods   map[connection.Kind]connection.Method
	pipelines PipelineFactory
	handoff   Handoff
	clock     clockwork.Clock
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator offering the given methods.
func NewOrchestrator(methods []connection.Method, pipelines PipelineFactory, handoff Handoff, clock clockwork.Clock, logger *zap.Logger) *Orchestrator {
	byKind := make(map[connection.Kind]connection.Method, len(methods))
	for _, m := range methods {
		byKind[m.Kind()] = m
	}
	return &Orchestrator{
		methods:   byKind,
		pipelines: pipelines,
		handoff:   handoff,
		clock:     clock,
		logger:    logger,
	}
}

// Methods lists the offered methods in wizard order.
func (o *Orchestrator) Methods() []connection.Kind {
	var out []connection.Kind
	for _, k := range connection.Kinds {
		if _, ok := o.methods[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Open starts a session. An unknown initial step falls back to the first step.
// Resumed accounts go through acceptance again and start out connecting.
func (o *Orchestrator) Open(initial *InitialState) *Session {
	now := o.clock.Now()
	s := &Session{
		id:        ksuid.New().String(),
		pipeline:  o.pipelines(),
		createdAt: now,
		updatedAt: now,
	}
	if initial != nil {
		s.step = indexOf(initial.Step)
		if _, ok := o.methods[initial.Method]; ok {
			s.method = initial.Method
		}
		if len(initial.Accounts) > 0 {
			s.accounts = account.Readmit(initial.Accounts)
		}
	}

	o.logger.Info("wizard opened", zap.String("session", s.id), zap.String("step", string(Steps[s.step])))
	return s
}

// Next advances one step if the current step is complete.
func (o *Orchestrator) Next(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := o.checkOpen(s); err != nil {
		return err
	}
	if s.step == len(Steps)-1 || !s.canLeave(s.step) {
		return fmt.Errorf("%s: %w", Steps[s.step], ErrStepIncomplete)
	}
	s.step++
	s.updatedAt = o.clock.Now()
	return nil
}

// Back moves one step back. At the first step it does nothing.
func (o *Orchestrator) Back(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := o.checkOpen(s); err != nil {
		return err
	}
	if s.step > 0 {
		s.step--
		s.updatedAt = o.clock.Now()
	}
	return nil
}

// GoTo jumps to a step. Unknown ids resolve to the first step. Moving forward
// requires every step in between to be complete.
func (o *Orchestrator) GoTo(s *Session, id StepID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := o.checkOpen(s); err != nil {
		return err
	}
	target := indexOf(id)
	for i := s.step; i < target; i++ {
		if !s.canLeave(i) {
			return fmt.Errorf("%s: %w", Steps[i], ErrStepIncomplete)
		}
	}
	s.step = target
	s.updatedAt = o.clock.Now()
	return nil
}

// SelectMethod chooses the connection method. Any results from a previous
// method are dropped and in-flight connects become stale.
func (o *Orchestrator) SelectMethod(s *Session, kind connection.Kind) error {
	if _, ok := o.methods[kind]; !ok {
		return fmt.Errorf("%q: %w", kind, ErrUnknownMethod)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := o.checkOpen(s); err != nil {
		return err
	}
	if s.verifying {
		return ErrBusy
	}
	if s.method != kind {
		s.clearResults()
		_, _ = s.pipeline.Retry()
	}
	s.method = kind
	s.updatedAt = o.clock.Now()
	return nil
}

// Connect runs the selected method. The session lock is released while the
// method works; if the session moved on in the meantime the result is
// discarded with ErrStaleResult. When accounts were produced the session
// advances to verification.
func (o *Orchestrator) Connect(ctx context.Context, s *Session, in connection.Input) (connection.Result, error) {
	s.mu.Lock()
	if err := o.checkOpen(s); err != nil {
		s.mu.Unlock()
		return connection.Result{}, err
	}
	if s.verifying {
		s.mu.Unlock()
		return connection.Result{}, ErrBusy
	}
	method, ok := o.methods[s.method]
	if !ok {
		s.mu.Unlock()
		return connection.Result{}, fmt.Errorf("%s: %w", StepMethod, ErrStepIncomplete)
	}
	s.token++
	token := s.token
	kind := s.method
	s.connecting = true
	s.step = indexOf(StepConnect)
	s.updatedAt = o.clock.Now()
	s.mu.Unlock()

	result := method.Produce(ctx, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != token || s.method != kind || s.outcome != OutcomeOpen {
		o.logger.Info("discarding stale connect result",
			zap.String("session", s.id),
			zap.String("method", string(kind)),
		)
		return result, ErrStaleResult
	}

	s.connecting = false
	s.accounts = account.Clone(result.Accounts)
	s.errors = append([]string(nil), result.Errors...)
	s.warnings = append([]string(nil), result.Warnings...)
	s.files = append([]connection.FileReport(nil), result.Files...)
	_, _ = s.pipeline.Retry()
	if len(s.accounts) > 0 {
		s.step = indexOf(StepVerify)
	}
	s.updatedAt = o.clock.Now()

	o.logger.Info("connect finished",
		zap.String("session", s.id),
		zap.String("method", string(kind)),
		zap.Int("accounts", len(result.Accounts)),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// Reconnect returns to the connect step with a clean slate.
func (o *Orchestrator) Reconnect(s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := o.checkOpen(s); err != nil {
		return err
	}
	if s.verifying {
		return ErrBusy
	}
	if s.method == "" {
		return fmt.Errorf("%s: %w", StepMethod, ErrStepIncomplete)
	}
	s.clearResults()
	_, _ = s.pipeline.Retry()
	s.step = indexOf(StepConnect)
	s.updatedAt = o.clock.Now()
	return nil
}

// Verify runs the pipeline over the batch and replaces the batch with
// classified copies. Every record gets the same status.
func (o *Orchestrator) Verify(ctx context.Context, s *Session) (verification.Snapshot, error) {
	s.mu.Lock()
	if err := o.checkOpen(s); err != nil {
		s.mu.Unlock()
		return verification.Snapshot{}, err
	}
	if len(s.accounts) == 0 {
		s.mu.Unlock()
		return verification.Snapshot{}, fmt.Errorf("%s: %w", StepConnect, ErrStepIncomplete)
	}
	if s.verifying {
		s.mu.Unlock()
		return verification.Snapshot{}, verification.ErrAlreadyRunning
	}
	s.verifying = true
	s.step = indexOf(StepVerify)
	pipeline := s.pipeline
	s.mu.Unlock()

	snap, err := pipeline.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifying = false
	s.updatedAt = o.clock.Now()
	if err != nil {
		return verification.Snapshot{}, err
	}
	s.accounts = verification.Apply(s.accounts, snap.Overall)

	o.logger.Info("verification finished",
		zap.String("session", s.id),
		zap.String("overall", string(snap.Overall)),
		zap.Int("accounts", len(s.accounts)),
	)
	return snap, nil
}

// RetryVerification resets the whole pipeline and puts the accounts back to
// connecting.
func (o *Orchestrator) RetryVerification(s *Session) (verification.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := o.checkOpen(s); err != nil {
		return verification.Snapshot{}, err
	}
	snap, err := s.pipeline.Retry()
	if err != nil {
		return verification.Snapshot{}, err
	}
	s.accounts = verification.Reset(s.accounts)
	s.step = indexOf(StepVerify)
	s.updatedAt = o.clock.Now()
	return snap, nil
}

// Complete hands the verified batch to the dashboard and closes the session.
func (o *Orchestrator) Complete(ctx context.Context, s *Session) error {
	s.mu.Lock()
	if err := o.checkOpen(s); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.verifying || s.pipeline.Snapshot().State != verification.StateResults {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", StepVerify, ErrStepIncomplete)
	}
	s.outcome = OutcomeCompleted
	s.step = indexOf(StepComplete)
	s.token++
	s.updatedAt = o.clock.Now()
	accounts := account.Clone(s.accounts)
	s.mu.Unlock()

	o.logger.Info("wizard completed", zap.String("session", s.id), zap.Int("accounts", len(accounts)))
	if err := o.handoff.Completed(ctx, s.id, accounts); err != nil {
		return fmt.Errorf("completion handoff: %w", err)
	}
	return nil
}

// Cancel closes the session without producing accounts.
func (o *Orchestrator) Cancel(ctx context.Context, s *Session) error {
	s.mu.Lock()
	if err := o.checkOpen(s); err != nil {
		s.mu.Unlock()
		return err
	}
	s.outcome = OutcomeCancelled
	s.token++
	s.connecting = false
	s.updatedAt = o.clock.Now()
	s.mu.Unlock()

	o.logger.Info("wizard cancelled", zap.String("session", s.id))
	if err := o.handoff.Cancelled(ctx, s.id); err != nil {
		return fmt.Errorf("cancel handoff: %w", err)
	}
	return nil
}

// Progress reports the step position of the session.
func (o *Orchestrator) Progress(s *Session) Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return progressAt(s.step)
}

func (o *Orchestrator) checkOpen(s *Session) error {
	if s.outcome != OutcomeOpen {
		return fmt.Errorf("%s: %w", s.outcome, ErrSessionClosed)
	}
	return nil
}
