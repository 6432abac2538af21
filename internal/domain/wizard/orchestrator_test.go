package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"accountlink/internal/domain/account"
	"accountlink/internal/domain/connection"
	"accountlink/internal/domain/verification"
	"accountlink/internal/shared/simulate"
)

// MockMethod is a mock implementation of connection.Method
type MockMethod struct {
	KindValue   connection.Kind
	ProduceFunc func(ctx context.Context, in connection.Input) connection.Result
}

func (m *MockMethod) Kind() connection.Kind { return m.KindValue }

func (m *MockMethod) Produce(ctx context.Context, in connection.Input) connection.Result {
	if m.ProduceFunc != nil {
		return m.ProduceFunc(ctx, in)
	}
	return connection.Result{Method: m.KindValue}
}

// MockHandoff is a mock implementation of Handoff
type MockHandoff struct {
	mu        sync.Mutex
	completed map[string][]account.Record
	cancelled []string
	err       error
}

func (m *MockHandoff) Completed(ctx context.Context, sessionID string, accounts []account.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completed == nil {
		m.completed = make(map[string][]account.Record)
	}
	m.completed[sessionID] = accounts
	return m.err
}

func (m *MockHandoff) Cancelled(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, sessionID)
	return m.err
}

func twoAccounts(ctx context.Context, in connection.Input) connection.Result {
	return connection.Result{
		Method: connection.KindManual,
		Accounts: []account.Record{
			account.Accept(account.Draft{Name: "Checking", Category: account.CategoryChecking, AccountNumber: "11112222"}),
			account.Accept(account.Draft{Name: "Savings", Category: account.CategorySavings, AccountNumber: "33334444"}),
		},
		Errors:   []string{},
		Warnings: []string{"heads up"},
	}
}

func newTestOrchestrator(draw float64, handoff Handoff, methods ...connection.Method) *Orchestrator {
	if len(methods) == 0 {
		methods = []connection.Method{
			&MockMethod{KindValue: connection.KindManual, ProduceFunc: twoAccounts},
			&MockMethod{KindValue: connection.KindSample, ProduceFunc: twoAccounts},
		}
	}
	pipelines := func() *verification.Pipeline {
		return verification.NewPipeline(simulate.Fixed(draw), clockwork.NewRealClock(), verification.Timing{}, zap.NewNop())
	}
	return NewOrchestrator(methods, pipelines, handoff, clockwork.NewFakeClock(), zap.NewNop())
}

func TestOpen(t *testing.T) {
	o := newTestOrchestrator(0.9, &MockHandoff{})

	tests := []struct {
		name       string
		initial    *InitialState
		wantStep   StepID
		wantMethod connection.Kind
	}{
		{name: "nil initial state", initial: nil, wantStep: StepWelcome},
		{name: "unknown step falls back", initial: &InitialState{Step: "dashboard"}, wantStep: StepWelcome},
		{name: "resume at method", initial: &InitialState{Step: StepMethod, Method: connection.KindManual}, wantStep: StepMethod, wantMethod: connection.KindManual},
		{name: "unoffered method ignored", initial: &InitialState{Step: StepConnect, Method: connection.KindFile}, wantStep: StepConnect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := o.Open(tt.initial)
			v := s.View()
			if v.Step != tt.wantStep {
				t.Errorf("Step = %q, want %q", v.Step, tt.wantStep)
			}
			if v.Method != tt.wantMethod {
				t.Errorf("Method = %q, want %q", v.Method, tt.wantMethod)
			}
			if len(v.ID) != 27 {
				t.Errorf("ID = %q, want a ksuid", v.ID)
			}
			if v.Verification.State != verification.StateStart {
				t.Errorf("Verification.State = %q, want start", v.Verification.State)
			}
		})
	}
}

func TestOpen_ResumedAccountsReaccepted(t *testing.T) {
	handoff := &MockHandoff{}
	o := newTestOrchestrator(0.9, handoff)
	s := o.Open(&InitialState{
		Step:   StepVerify,
		Method: connection.KindManual,
		Accounts: []account.Record{
			{ID: "dup", Name: "Card", Category: account.CategoryCredit, MaskedNumber: "4000123412341234",
				Balance: decimal.NewFromInt(500), Status: account.StatusConnected},
			{ID: "dup", Name: "Checking", Category: account.CategoryChecking, MaskedNumber: "1234567890",
				Status: account.StatusConnected},
		},
	})

	accounts := s.View().Accounts
	if len(accounts) != 2 {
		t.Fatalf("len(Accounts) = %d, want 2", len(accounts))
	}
	if accounts[0].ID == "dup" || accounts[0].ID == accounts[1].ID {
		t.Errorf("ids = %q, %q, want fresh unique ids", accounts[0].ID, accounts[1].ID)
	}
	for _, r := range accounts {
		if r.Status != account.StatusConnecting {
			t.Errorf("account %s status = %q, want connecting", r.Name, r.Status)
		}
		if len(r.MaskedNumber) != 8 {
			t.Errorf("account %s MaskedNumber = %q, want last 4 digits only", r.Name, r.MaskedNumber)
		}
	}
	if !accounts[0].Balance.Equal(decimal.NewFromInt(-500)) {
		t.Errorf("credit Balance = %s, want -500", accounts[0].Balance)
	}

	if _, err := o.Verify(context.Background(), s); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := o.Next(s); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if err := o.Complete(context.Background(), s); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	for _, r := range handoff.completed[s.ID()] {
		if r.MaskedNumber == "4000123412341234" || r.MaskedNumber == "1234567890" {
			t.Errorf("full account number handed off: %+v", r)
		}
	}
}

func TestNavigation(t *testing.T) {
	o := newTestOrchestrator(0.9, &MockHandoff{})
	s := o.Open(nil)

	if err := o.Back(s); err != nil {
		t.Fatalf("Back() at first step error = %v", err)
	}
	if err := o.Next(s); err != nil {
		t.Fatalf("Next() from welcome error = %v", err)
	}
	if err := o.Next(s); !errors.Is(err, ErrStepIncomplete) {
		t.Fatalf("Next() without method error = %v, want ErrStepIncomplete", err)
	}
	if err := o.GoTo(s, StepVerify); !errors.Is(err, ErrStepIncomplete) {
		t.Fatalf("GoTo(verify) error = %v, want ErrStepIncomplete", err)
	}

	if err := o.SelectMethod(s, connection.KindManual); err != nil {
		t.Fatalf("SelectMethod() error = %v", err)
	}
	if err := o.Next(s); err != nil {
		t.Fatalf("Next() with method error = %v", err)
	}
	if got := s.View().Step; got != StepConnect {
		t.Errorf("Step = %q, want connect", got)
	}
	if err := o.Next(s); !errors.Is(err, ErrStepIncomplete) {
		t.Errorf("Next() without accounts error = %v, want ErrStepIncomplete", err)
	}

	if err := o.GoTo(s, "nowhere"); err != nil {
		t.Fatalf("GoTo(unknown) error = %v", err)
	}
	if got := s.View().Step; got != StepWelcome {
		t.Errorf("Step after unknown GoTo = %q, want welcome", got)
	}
}

func TestSelectMethod_Unknown(t *testing.T) {
	o := newTestOrchestrator(0.9, &MockHandoff{})
	s := o.Open(nil)

	for _, kind := range []connection.Kind{"carrier-pigeon", connection.KindFile} {
		if err := o.SelectMethod(s, kind); !errors.Is(err, ErrUnknownMethod) {
			t.Errorf("SelectMethod(%q) error = %v, want ErrUnknownMethod", kind, err)
		}
	}
}

func TestConnect(t *testing.T) {
	t.Run("without method", func(t *testing.T) {
		o := newTestOrchestrator(0.9, &MockHandoff{})
		s := o.Open(nil)
		if _, err := o.Connect(context.Background(), s, connection.Input{}); !errors.Is(err, ErrStepIncomplete) {
			t.Errorf("Connect() error = %v, want ErrStepIncomplete", err)
		}
	})

	t.Run("accounts advance to verify", func(t *testing.T) {
		o := newTestOrchestrator(0.9, &MockHandoff{})
		s := o.Open(nil)
		_ = o.SelectMethod(s, connection.KindManual)

		result, err := o.Connect(context.Background(), s, connection.Input{})
		if err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		v := s.View()
		if len(result.Accounts) != 2 || len(v.Accounts) != 2 {
			t.Fatalf("accounts = %d/%d, want 2", len(result.Accounts), len(v.Accounts))
		}
		if v.Step != StepVerify {
			t.Errorf("Step = %q, want verify", v.Step)
		}
		if v.Connecting {
			t.Error("Connecting still set")
		}
		if len(v.Warnings) != 1 {
			t.Errorf("Warnings = %v, want 1", v.Warnings)
		}
	})

	t.Run("no accounts stays on connect", func(t *testing.T) {
		failing := &MockMethod{
			KindValue: connection.KindManual,
			ProduceFunc: func(ctx context.Context, in connection.Input) connection.Result {
				return connection.Result{Method: connection.KindManual, Errors: []string{"Account 1: routing number required for checking accounts"}}
			},
		}
		o := newTestOrchestrator(0.9, &MockHandoff{}, failing)
		s := o.Open(nil)
		_ = o.SelectMethod(s, connection.KindManual)

		if _, err := o.Connect(context.Background(), s, connection.Input{}); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		v := s.View()
		if v.Step != StepConnect || len(v.Accounts) != 0 || len(v.Errors) != 1 {
			t.Errorf("view = %+v, want connect step with one error", v)
		}
	})
}

func TestConnect_StaleResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	slow := &MockMethod{
		KindValue: connection.KindManual,
		ProduceFunc: func(ctx context.Context, in connection.Input) connection.Result {
			close(started)
			<-release
			return twoAccounts(ctx, in)
		},
	}
	sample := &MockMethod{KindValue: connection.KindSample}
	o := newTestOrchestrator(0.9, &MockHandoff{}, slow, sample)
	s := o.Open(nil)
	_ = o.SelectMethod(s, connection.KindManual)

	errc := make(chan error, 1)
	go func() {
		_, err := o.Connect(context.Background(), s, connection.Input{})
		errc <- err
	}()

	<-started
	if !s.View().Connecting {
		t.Error("Connecting not set while method runs")
	}
	if err := o.SelectMethod(s, connection.KindSample); err != nil {
		t.Fatalf("SelectMethod() error = %v", err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrStaleResult) {
		t.Fatalf("Connect() error = %v, want ErrStaleResult", err)
	}
	v := s.View()
	if len(v.Accounts) != 0 {
		t.Errorf("stale accounts applied: %d", len(v.Accounts))
	}
	if v.Method != connection.KindSample {
		t.Errorf("Method = %q, want sample", v.Method)
	}
}

func TestVerifyAndComplete(t *testing.T) {
	handoff := &MockHandoff{}
	o := newTestOrchestrator(0.9, handoff)
	s := o.Open(nil)
	_ = o.SelectMethod(s, connection.KindManual)

	if err := o.Complete(context.Background(), s); !errors.Is(err, ErrStepIncomplete) {
		t.Fatalf("Complete() before verify error = %v, want ErrStepIncomplete", err)
	}
	if _, err := o.Verify(context.Background(), s); !errors.Is(err, ErrStepIncomplete) {
		t.Fatalf("Verify() without accounts error = %v, want ErrStepIncomplete", err)
	}

	if _, err := o.Connect(context.Background(), s, connection.Input{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	snap, err := o.Verify(context.Background(), s)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if snap.Overall != verification.OverallPass || len(snap.Checks) != 6 {
		t.Fatalf("snapshot = %+v, want pass over 6 checks", snap)
	}
	for _, r := range s.View().Accounts {
		if r.Status != account.StatusConnected {
			t.Errorf("account %s status = %q, want connected", r.ID, r.Status)
		}
	}

	if err := o.Next(s); err != nil {
		t.Fatalf("Next() after verify error = %v", err)
	}
	if err := o.Complete(context.Background(), s); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	v := s.View()
	if v.Outcome != OutcomeCompleted || v.Step != StepComplete || v.Progress.Percent != 100 {
		t.Errorf("view = %+v, want completed at 100%%", v)
	}
	handed := handoff.completed[s.ID()]
	if len(handed) != 2 || handed[0].Status != account.StatusConnected {
		t.Errorf("handoff accounts = %+v", handed)
	}
	if err := o.Back(s); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Back() after complete error = %v, want ErrSessionClosed", err)
	}
}

func TestVerify_WarningClassification(t *testing.T) {
	o := newTestOrchestrator(0.1, &MockHandoff{})
	s := o.Open(nil)
	_ = o.SelectMethod(s, connection.KindManual)
	_, _ = o.Connect(context.Background(), s, connection.Input{})

	snap, err := o.Verify(context.Background(), s)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if snap.Overall != verification.OverallWarn {
		t.Errorf("Overall = %q, want warn", snap.Overall)
	}
	for _, r := range s.View().Accounts {
		if r.Status != account.StatusVerificationRequired {
			t.Errorf("status = %q, want verification_required", r.Status)
		}
	}
}

func TestRetryVerification(t *testing.T) {
	o := newTestOrchestrator(0.01, &MockHandoff{})
	s := o.Open(nil)
	_ = o.SelectMethod(s, connection.KindManual)
	_, _ = o.Connect(context.Background(), s, connection.Input{})
	if _, err := o.Verify(context.Background(), s); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	snap, err := o.RetryVerification(s)
	if err != nil {
		t.Fatalf("RetryVerification() error = %v", err)
	}
	if snap.State != verification.StateStart {
		t.Errorf("State = %q, want start", snap.State)
	}
	for _, c := range snap.Checks {
		if c.Status != verification.StatusPending || c.Message != "" {
			t.Errorf("check %s not reset: %+v", c.ID, c)
		}
	}
	for _, r := range s.View().Accounts {
		if r.Status != account.StatusConnecting {
			t.Errorf("status = %q, want connecting", r.Status)
		}
	}
	if err := o.Complete(context.Background(), s); !errors.Is(err, ErrStepIncomplete) {
		t.Errorf("Complete() after retry error = %v, want ErrStepIncomplete", err)
	}
}

func TestReconnect(t *testing.T) {
	o := newTestOrchestrator(0.9, &MockHandoff{})
	s := o.Open(nil)
	if err := o.Reconnect(s); !errors.Is(err, ErrStepIncomplete) {
		t.Fatalf("Reconnect() without method error = %v, want ErrStepIncomplete", err)
	}

	_ = o.SelectMethod(s, connection.KindManual)
	_, _ = o.Connect(context.Background(), s, connection.Input{})
	_, _ = o.Verify(context.Background(), s)

	if err := o.Reconnect(s); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	v := s.View()
	if v.Step != StepConnect || len(v.Accounts) != 0 || v.Verification.State != verification.StateStart {
		t.Errorf("view = %+v, want clean connect step", v)
	}
}

func TestCancel(t *testing.T) {
	handoff := &MockHandoff{}
	o := newTestOrchestrator(0.9, handoff)
	s := o.Open(nil)

	if err := o.Cancel(context.Background(), s); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if len(handoff.cancelled) != 1 || handoff.cancelled[0] != s.ID() {
		t.Errorf("cancelled = %v", handoff.cancelled)
	}
	if err := o.Cancel(context.Background(), s); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second Cancel() error = %v, want ErrSessionClosed", err)
	}
}

func TestCancel_HandoffError(t *testing.T) {
	handoff := &MockHandoff{err: errors.New("dashboard unavailable")}
	o := newTestOrchestrator(0.9, handoff)
	s := o.Open(nil)

	err := o.Cancel(context.Background(), s)
	if err == nil || !errors.Is(err, handoff.err) {
		t.Errorf("Cancel() error = %v, want wrapped handoff error", err)
	}
}

func TestProgress(t *testing.T) {
	o := newTestOrchestrator(0.9, &MockHandoff{})
	tests := []struct {
		step StepID
		want Progress
	}{
		{StepWelcome, Progress{Index: 0, Total: 5, Percent: 0}},
		{StepConnect, Progress{Index: 2, Total: 5, Percent: 50}},
		{StepComplete, Progress{Index: 4, Total: 5, Percent: 100}},
	}
	for _, tt := range tests {
		s := o.Open(&InitialState{Step: tt.step})
		if got := o.Progress(s); got != tt.want {
			t.Errorf("Progress(%s) = %+v, want %+v", tt.step, got, tt.want)
		}
	}
}

func TestHandoffs_FanOut(t *testing.T) {
	a, b := &MockHandoff{}, &MockHandoff{err: errors.New("down")}
	h := Handoffs{a, b}

	err := h.Completed(context.Background(), "s1", []account.Record{{ID: "x"}})
	if err == nil {
		t.Error("Completed() error = nil, want joined error")
	}
	if len(a.completed["s1"]) != 1 || len(b.completed["s1"]) != 1 {
		t.Error("not every handoff received the batch")
	}
}

func TestMethods(t *testing.T) {
	o := newTestOrchestrator(0.9, &MockHandoff{})
	got := o.Methods()
	if len(got) != 2 || got[0] != connection.KindManual || got[1] != connection.KindSample {
		t.Errorf("Methods() = %v, want [manual sample]", got)
	}
}
