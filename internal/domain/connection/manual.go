package connection

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"accountlink/internal/domain/account"
	"accountlink/internal/shared/simulate"
)

const (
	maxNameLength    = 100
	minAccountDigits = 4
	maxAccountDigits = 20
	routingDigits    = 9
)

var maxBalance = decimal.NewFromInt(1_000_000_000)

// ManualEntry is one account form filled in by the user. Balance is kept as text
// so that malformed numbers surface as a diagnostic.
type ManualEntry struct {
	Name          string           `json:"name"`
	Institution   string           `json:"institution"`
	Category      account.Category `json:"category"`
	AccountNumber string           `json:"accountNumber"`
	RoutingNumber string           `json:"routingNumber,omitempty"`
	Balance       string           `json:"balance"`
	Currency      string           `json:"currency,omitempty"`
}

// ManualEntryFlow accepts a batch of account forms.
type ManualEntryFlow struct {
	clock  clockwork.Clock
	delay  time.Duration
	logger *zap.Logger
}

var _ Method = (*ManualEntryFlow)(nil)

// NewManualEntry creates the manual-entry sub-flow.
func NewManualEntry(clock clockwork.Clock, timing Timing, logger *zap.Logger) *ManualEntryFlow {
	return &ManualEntryFlow{clock: clock, delay: timing.ManualSave, logger: logger}
}

func (f *ManualEntryFlow) Kind() Kind { return KindManual }

// Produce validates the whole batch. Any diagnostic rejects the submission so
// the user fixes the forms before anything is accepted.
func (f *ManualEntryFlow) Produce(ctx context.Context, in Input) Result {
	result := newResult(KindManual)

	if errs := ValidateEntries(in.Entries); len(errs) > 0 {
		result.Errors = append(result.Errors, errs...)
		f.logger.Info("manual entry rejected", zap.Int("entries", len(in.Entries)), zap.Int("errors", len(errs)))
		return result
	}

	if err := simulate.Wait(ctx, f.clock, f.delay); err != nil {
		result.Errors = append(result.Errors, cancelledMessage(err))
		return result
	}

	for _, e := range in.Entries {
		balance, _ := decimal.NewFromString(strings.TrimSpace(e.Balance))
		result.Accounts = append(result.Accounts, account.Accept(account.Draft{
			Name:          e.Name,
			Institution:   e.Institution,
			Category:      e.Category,
			AccountNumber: e.AccountNumber,
			RoutingNumber: strings.TrimSpace(e.RoutingNumber),
			Balance:       balance,
			Currency:      strings.ToUpper(strings.TrimSpace(e.Currency)),
		}))
	}

	f.logger.Info("manual entry accepted", zap.Int("accounts", len(result.Accounts)))
	return result
}

// ValidateEntries runs the per-field and batch-level checks. The returned
// messages are user-facing and name the 1-based entry they refer to.
func ValidateEntries(entries []ManualEntry) []string {
	if len(entries) == 0 {
		return []string{"Add at least one account to continue"}
	}

	var errs []string
	seen := make(map[string]int, len(entries))

	for i, e := range entries {
		n := i + 1

		errs = append(errs, validateName(n, "account name", e.Name)...)
		errs = append(errs, validateName(n, "institution name", e.Institution)...)

		if !e.Category.Valid() {
			errs = append(errs, fmt.Sprintf("Account %d: choose checking, savings, credit or investment", n))
		}

		number := strings.TrimSpace(e.AccountNumber)
		if !isDigits(number) || len(number) < minAccountDigits || len(number) > maxAccountDigits {
			errs = append(errs, fmt.Sprintf("Account %d: account number must be %d-%d digits", n, minAccountDigits, maxAccountDigits))
		} else if first, dup := seen[number]; dup {
			errs = append(errs, fmt.Sprintf("Accounts %d and %d have the same account number", first, n))
		} else {
			seen[number] = n
		}

		routing := strings.TrimSpace(e.RoutingNumber)
		switch {
		case routing != "" && (!isDigits(routing) || len(routing) != routingDigits):
			errs = append(errs, fmt.Sprintf("Account %d: routing number must be exactly %d digits", n, routingDigits))
		case routing == "" && e.Category.RequiresRouting():
			errs = append(errs, fmt.Sprintf("Account %d: routing number required for %s accounts", n, e.Category))
		}

		balance, err := decimal.NewFromString(strings.TrimSpace(e.Balance))
		if err != nil {
			errs = append(errs, fmt.Sprintf("Account %d: balance must be a number", n))
		} else if balance.Abs().GreaterThan(maxBalance) {
			errs = append(errs, fmt.Sprintf("Account %d: balance must be between -%s and %s", n, maxBalance, maxBalance))
		}

		if c := strings.ToUpper(strings.TrimSpace(e.Currency)); c != "" && !account.IsValidCurrency(c) {
			errs = append(errs, fmt.Sprintf("Account %d: %s is not a supported currency", n, c))
		}
	}

	return errs
}

func validateName(n int, label, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{fmt.Sprintf("Account %d: %s is required", n, label)}
	}
	if utf8.RuneCountInString(value) > maxNameLength {
		return []string{fmt.Sprintf("Account %d: %s must be at most %d characters", n, label, maxNameLength)}
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
