package connection

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"accountlink/internal/domain/account"
	"accountlink/internal/shared/simulate"
)

const sampleInstitution = "Sample Bank"

var sampleDrafts = []account.Draft{
	{
		Name:          "Everyday Checking",
		Institution:   sampleInstitution,
		Category:      account.CategoryChecking,
		AccountNumber: "000123456789",
		RoutingNumber: "021000021",
		Balance:       decimal.RequireFromString("2450.18"),
	},
	{
		Name:          "High-Yield Savings",
		Institution:   sampleInstitution,
		Category:      account.CategorySavings,
		AccountNumber: "000987654321",
		RoutingNumber: "021000021",
		Balance:       decimal.RequireFromString("12800.00"),
	},
	{
		Name:          "Travel Rewards Card",
		Institution:   sampleInstitution,
		Category:      account.CategoryCredit,
		AccountNumber: "4000123412341234",
		Balance:       decimal.RequireFromString("615.42"),
	},
}

// SampleData produces a fixed set of demo accounts for users exploring the
// platform before linking anything real.
type SampleData struct {
	clock clockwork.Clock
	delay time.Duration
}

var _ Method = (*SampleData)(nil)

// NewSampleData creates the sample-data sub-flow.
func NewSampleData(clock clockwork.Clock, timing Timing) *SampleData {
	return &SampleData{clock: clock, delay: timing.Sample}
}

func (s *SampleData) Kind() Kind { return KindSample }

func (s *SampleData) Produce(ctx context.Context, _ Input) Result {
	result := newResult(KindSample)
	if err := simulate.Wait(ctx, s.clock, s.delay); err != nil {
		result.Errors = append(result.Errors, cancelledMessage(err))
		return result
	}
	for _, d := range sampleDrafts {
		result.Accounts = append(result.Accounts, account.Accept(d))
	}
	return result
}
