package account

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category is the closed set of account categories a connection method may produce.
type Category string

const (
	CategoryChecking   Category = "checking"
	CategorySavings    Category = "savings"
	CategoryCredit     Category = "credit"
	CategoryInvestment Category = "investment"
)

// Status is the lifecycle status of a record. It is written by the verification
// pipeline (initial classification) and the health monitor (resync) only.
type Status string

const (
	StatusConnecting           Status = "connecting"
	StatusConnected            Status = "connected"
	StatusError                Status = "error"
	StatusVerificationRequired Status = "verification_required"
)

// DefaultCurrency is applied when a draft carries no currency.
const DefaultCurrency = "USD"

const maskPrefix = "****"

var (
	categories = map[Category]struct{}{
		CategoryChecking:   {},
		CategorySavings:    {},
		CategoryCredit:     {},
		CategoryInvestment: {},
	}
	// Common ISO 4217 currency codes
	validCurrencies = map[string]struct{}{
		"USD": {}, "EUR": {}, "GBP": {}, "CAD": {}, "AUD": {},
		"NZD": {}, "JPY": {}, "CHF": {}, "CNY": {}, "INR": {},
		"MXN": {}, "BRL": {}, "ZAR": {}, "SEK": {}, "NOK": {},
		"DKK": {}, "PLN": {}, "SGD": {}, "HKD": {}, "KRW": {},
	}
)

// Domain errors
var (
	ErrInvalidCategory = errors.New("invalid account category")
	ErrInvalidCurrency = errors.New("valid ISO 4217 currency is required")
	ErrNameRequired    = errors.New("account name is required")
)

// Record is the canonical account representation moving through the wizard.
type Record struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Institution   string          `json:"institution"`
	Category      Category        `json:"category"`
	MaskedNumber  string          `json:"maskedNumber"`
	RoutingNumber string          `json:"routingNumber,omitempty"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	LastSync      *time.Time      `json:"lastSync,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}

// Draft is an account as a connection method sees it before acceptance.
// AccountNumber may hold the full number; it never survives Accept.
type Draft struct {
	Name          string
	Institution   string
	Category      Category
	AccountNumber string
	RoutingNumber string
	Balance       decimal.Decimal
	Currency      string
}

// Validate checks the draft fields every connection method relies on.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrNameRequired
	}
	if !d.Category.Valid() {
		return ErrInvalidCategory
	}
	if d.Currency != "" && !IsValidCurrency(d.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// Accept turns a draft into a record: it assigns an id, masks the account number,
// discards the full number and normalizes the credit balance sign.
func Accept(d Draft) Record {
	currency := d.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return Record{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(d.Name),
		Institution:   strings.TrimSpace(d.Institution),
		Category:      d.Category,
		MaskedNumber:  MaskNumber(d.AccountNumber),
		RoutingNumber: d.RoutingNumber,
		Balance:       NormalizeBalance(d.Category, d.Balance),
		Currency:      currency,
		Status:        StatusConnecting,
	}
}

// MaskNumber keeps at most the last 4 digits of number.
// Non-digit characters are ignored.
func MaskNumber(number string) string {
	digits := make([]byte, 0, len(number))
	for i := 0; i < len(number); i++ {
		if number[i] >= '0' && number[i] <= '9' {
			digits = append(digits, number[i])
		}
	}
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return maskPrefix + string(digits)
}

// NormalizeBalance applies the sign convention of the category. Credit balances
// are amounts owed and are always stored as negative (or zero).
func NormalizeBalance(c Category, amount decimal.Decimal) decimal.Decimal {
	if c == CategoryCredit {
		return amount.Abs().Neg()
	}
	return amount
}

// Readmit re-applies acceptance to records supplied from outside, such as a
// resumed session. Each kept record gets a fresh id, a re-masked number, the
// credit sign convention and status connecting. Records that could not have
// passed acceptance (no name, unknown category or currency) are dropped.
func Readmit(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		d := Draft{
			Name:          r.Name,
			Institution:   r.Institution,
			Category:      r.Category,
			AccountNumber: r.MaskedNumber,
			RoutingNumber: r.RoutingNumber,
			Balance:       r.Balance,
			Currency:      r.Currency,
		}
		if d.Validate() != nil {
			continue
		}
		out = append(out, Accept(d))
	}
	return out
}

// WithStatus returns copies of records with status set. Only the verification
// pipeline and the health monitor call this.
func WithStatus(records []Record, status Status) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		r.Status = status
		out[i] = r
	}
	return out
}

// Clone returns an independent copy of records.
func Clone(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		if r.LastSync != nil {
			ts := *r.LastSync
			r.LastSync = &ts
		}
		out[i] = r
	}
	return out
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// RequiresRouting reports whether accounts of this category need a routing number.
func (c Category) RequiresRouting() bool {
	return c == CategoryChecking || c == CategorySavings
}

// IsValidCurrency checks if the provided currency is a valid ISO 4217 code.
func IsValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	_, ok := validCurrencies[c]
	return ok
}
