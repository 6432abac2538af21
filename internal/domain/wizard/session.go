// Package wizard drives a user through the linear account-connection flow:
// welcome, choose a method, connect, verify, complete.
package wizard

import (
	"sync"
	"time"

	"accountlink/internal/domain/account"
	"accountlink/internal/domain/connection"
	"accountlink/internal/domain/verification"
)

// StepID names a wizard step.
type StepID string

const (
	StepWelcome  StepID = "welcome"
	StepMethod   StepID = "method"
	StepConnect  StepID = "connect"
	StepVerify   StepID = "verify"
	StepComplete StepID = "complete"
)

// Steps is the fixed step order.
var Steps = []StepID{StepWelcome, StepMethod, StepConnect, StepVerify, StepComplete}

// indexOf returns the position of id, falling back to the first step for
// unknown ids.
func indexOf(id StepID) int {
	for i, s := range Steps {
		if s == id {
			return i
		}
	}
	return 0
}

// Outcome records how a session ended.
type Outcome string

const (
	OutcomeOpen      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
)

// InitialState lets the caller resume a wizard part way through.
type InitialState struct {
	Step     StepID           `json:"step,omitempty"`
	Method   connection.Kind  `json:"method,omitempty"`
	Accounts []account.Record `json:"accounts,omitempty"`
}

// Session is the explicit state of one wizard run. Every orchestrator
// operation takes the session it acts on; nothing is kept globally.
type Session struct {
	mu sync.Mutex

	id       string
	step     int
	method   connection.Kind
	accounts []account.Record
	errors   []string
	warnings []string
	files    []connection.FileReport
	pipeline *verification.Pipeline

	// token increases whenever an in-flight connect result must be discarded.
	token      uint64
	connecting bool
	verifying  bool
	outcome    Outcome

	createdAt time.Time
	updatedAt time.Time
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UpdatedAt returns the time of the last state change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Progress is the position of the session in the flow.
type Progress struct {
	Index   int `json:"index"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

func progressAt(step int) Progress {
	total := len(Steps)
	return Progress{Index: step, Total: total, Percent: step * 100 / (total - 1)}
}

// View is a read-only copy of a session.
type View struct {
	ID           string                  `json:"id"`
	Step         StepID                  `json:"step"`
	Progress     Progress                `json:"progress"`
	Method       connection.Kind         `json:"method,omitempty"`
	Accounts     []account.Record        `json:"accounts"`
	Errors       []string                `json:"errors"`
	Warnings     []string                `json:"warnings"`
	Files        []connection.FileReport `json:"files,omitempty"`
	Verification verification.Snapshot   `json:"verification"`
	Connecting   bool                    `json:"connecting"`
	Verifying    bool                    `json:"verifying"`
	Outcome      Outcome                 `json:"outcome,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
	UpdatedAt    time.Time               `json:"updatedAt"`
}

// View returns a copy of the session state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:           s.id,
		Step:         Steps[s.step],
		Progress:     progressAt(s.step),
		Method:       s.method,
		Accounts:     nonNil(account.Clone(s.accounts)),
		Errors:       append([]string{}, s.errors...),
		Warnings:     append([]string{}, s.warnings...),
		Files:        append([]connection.FileReport(nil), s.files...),
		Verification: s.pipeline.Snapshot(),
		Connecting:   s.connecting,
		Verifying:    s.verifying,
		Outcome:      s.outcome,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
}

func nonNil(records []account.Record) []account.Record {
	if records == nil {
		return []account.Record{}
	}
	return records
}

// clearResults drops everything produced by a connection method. Requires s.mu.
func (s *Session) clearResults() {
	s.token++
	s.connecting = false
	s.accounts = nil
	s.errors = nil
	s.warnings = nil
	s.files = nil
}

// canLeave reports whether the step at index i has what the next step needs.
// Requires s.mu.
func (s *Session) canLeave(i int) bool {
	switch Steps[i] {
	case StepMethod:
		return s.method != ""
	case StepConnect:
		return len(s.accounts) > 0
	case StepVerify:
		return s.pipeline.Snapshot().State == verification.StateResults
	case StepComplete:
		return false
	default:
		return true
	}
}
