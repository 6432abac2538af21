// Package connection holds the interchangeable sub-flows that produce account
// records: automated link, manual entry, file import and sample data.
package connection

import (
	"context"
	"errors"
	"time"

	"accountlink/internal/domain/account"
)

// Kind identifies a connection method.
type Kind string

const (
	KindAutomated Kind = "automated"
	KindManual    Kind = "manual"
	KindFile      Kind = "file"
	KindSample    Kind = "sample"
)

// Kinds lists the connection methods in the order the wizard offers them.
var Kinds = []Kind{KindAutomated, KindManual, KindFile, KindSample}

// Valid reports whether k is a known method.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ErrLinkFailed is returned by connectors when the institution round trip fails.
var ErrLinkFailed = errors.New("institution link failed")

// Input is the tagged input of every method; each method reads only its part.
type Input struct {
	Institution string        `json:"institution,omitempty"`
	Entries     []ManualEntry `json:"entries,omitempty"`
	Files       []Upload      `json:"-"`
}

// Result is what a method produced. Failures are messages, never panics or errors,
// so partially successful imports can still be displayed.
type Result struct {
	Method   Kind             `json:"method"`
	Accounts []account.Record `json:"accounts"`
	Errors   []string         `json:"errors"`
	Warnings []string         `json:"warnings"`
	Files    []FileReport     `json:"files,omitempty"`
}

// Failed reports whether the method produced no accounts.
func (r Result) Failed() bool {
	return len(r.Accounts) == 0
}

func newResult(kind Kind) Result {
	return Result{
		Method:   kind,
		Accounts: []account.Record{},
		Errors:   []string{},
		Warnings: []string{},
	}
}

// Method is the produce-accounts contract shared by all sub-flows.
type Method interface {
	Kind() Kind
	Produce(ctx context.Context, in Input) Result
}

// Timing holds the simulated processing delays of the local methods.
type Timing struct {
	ManualSave time.Duration
	PerFile    time.Duration
	Sample     time.Duration
}

// DefaultTiming mirrors the pacing the UI shell expects.
func DefaultTiming() Timing {
	return Timing{
		ManualSave: 800 * time.Millisecond,
		PerFile:    600 * time.Millisecond,
		Sample:     400 * time.Millisecond,
	}
}

func cancelledMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "The connection timed out, please try again"
	}
	return "The connection was cancelled"
}
