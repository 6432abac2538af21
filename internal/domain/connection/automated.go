package connection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"accountlink/internal/domain/account"
)

// Connector is the stand-in for a banking aggregator. It returns drafts for the
// accounts held at an institution.
type Connector interface {
	Link(ctx context.Context, inst Institution) ([]account.Draft, error)
}

// AutomatedLink connects accounts through a Connector.
type AutomatedLink struct {
	connector Connector
	logger    *zap.Logger
}

var _ Method = (*AutomatedLink)(nil)

// NewAutomatedLink creates the automated-link sub-flow.
func NewAutomatedLink(connector Connector, logger *zap.Logger) *AutomatedLink {
	return &AutomatedLink{connector: connector, logger: logger}
}

func (a *AutomatedLink) Kind() Kind { return KindAutomated }

// Produce links the institution named in the input.
func (a *AutomatedLink) Produce(ctx context.Context, in Input) Result {
	result := newResult(KindAutomated)

	inst, ok := FindInstitution(in.Institution)
	if !ok {
		result.Errors = append(result.Errors, "Select a supported institution to continue")
		return result
	}

	drafts, err := a.connector.Link(ctx, inst)
	if err != nil {
		a.logger.Warn("automated link failed",
			zap.String("institution", inst.ID),
			zap.Error(err),
		)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			result.Errors = append(result.Errors, cancelledMessage(err))
		case errors.Is(err, ErrLinkFailed):
			result.Errors = append(result.Errors,
				fmt.Sprintf("We couldn't connect to %s right now. Please try again.", inst.Name))
		default:
			result.Errors = append(result.Errors,
				fmt.Sprintf("Connecting to %s failed: %v", inst.Name, err))
		}
		return result
	}

	for i, d := range drafts {
		if d.Institution == "" {
			d.Institution = inst.Name
		}
		if err := d.Validate(); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Skipped account %d from %s: %v", i+1, inst.Name, err))
			continue
		}
		result.Accounts = append(result.Accounts, account.Accept(d))
	}

	if len(result.Accounts) == 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("No accounts were found at %s", inst.Name))
	}

	a.logger.Info("automated link complete",
		zap.String("institution", inst.ID),
		zap.Int("accounts", len(result.Accounts)),
	)
	return result
}
