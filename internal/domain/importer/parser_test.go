package importer

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParse_BasicCSV(t *testing.T) {
	raw := "Date, Description, Amount\n2024-01-01,Coffee,-4.50\n2024-01-02,Paycheck,2000.00\n"

	result := Parse(raw, "checking.csv")

	if len(result.Errors) != 0 {
		t.Fatalf("Errors = %v, want none", result.Errors)
	}
	if len(result.Transactions) != 2 {
		t.Fatalf("len(Transactions) = %d, want 2", len(result.Transactions))
	}
	if !result.Candidate.Balance.Equal(decimal.RequireFromString("1995.50")) {
		t.Errorf("Candidate.Balance = %s, want 1995.50", result.Candidate.Balance)
	}
	if result.Candidate.Name != "checking" {
		t.Errorf("Candidate.Name = %q, want %q", result.Candidate.Name, "checking")
	}
	if result.Candidate.Institution != PlaceholderInstitution {
		t.Errorf("Candidate.Institution = %q, want %q", result.Candidate.Institution, PlaceholderInstitution)
	}
	if got := result.Transactions[0].Description; got != "Coffee" {
		t.Errorf("Transactions[0].Description = %q, want Coffee", got)
	}
	if !result.Transactions[0].Balance.Equal(decimal.RequireFromString("-4.50")) {
		t.Errorf("Transactions[0].Balance = %s, want -4.50", result.Transactions[0].Balance)
	}
}

func TestParse_HeaderOnly(t *testing.T) {
	result := Parse("Date,Description,Amount\n", "empty.csv")

	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", result.Errors)
	}
	if !strings.HasPrefix(result.Errors[0], ErrEmptyOrInvalid) {
		t.Errorf("Errors[0] = %q, want %s prefix", result.Errors[0], ErrEmptyOrInvalid)
	}
	if len(result.Transactions) != 0 {
		t.Errorf("len(Transactions) = %d, want 0", len(result.Transactions))
	}
}

func TestParse_BlankInput(t *testing.T) {
	result := Parse("\n\n   \r\n", "blank.csv")

	if !result.HasErrors() {
		t.Fatal("HasErrors() = false, want true")
	}
}

func TestParse_UnparseableDateSkipsRow(t *testing.T) {
	raw := strings.Join([]string{
		"Posted Date,Payee,Amount",
		"2024-01-01,Coffee,-4.50",
		"not-a-date,Mystery,-10.00",
		"01/03/2024,Lunch,-12.00",
	}, "\n")

	result := Parse(raw, "card.csv")

	if len(result.Transactions) != 2 {
		t.Fatalf("len(Transactions) = %d, want 2", len(result.Transactions))
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want one", result.Warnings)
	}
	if !strings.Contains(result.Warnings[0], "Row 2") {
		t.Errorf("Warnings[0] = %q, want it to name row 2", result.Warnings[0])
	}
	if !result.Candidate.Balance.Equal(decimal.RequireFromString("-16.50")) {
		t.Errorf("Candidate.Balance = %s, want -16.50", result.Candidate.Balance)
	}
}

func TestParse_BalanceColumnOverridesAccumulator(t *testing.T) {
	raw := strings.Join([]string{
		"Date,Memo,Amount,Running Balance",
		"2024-02-01,Deposit,100.00,1100.00",
		"2024-02-02,Rent,-900.00,",
		"2024-02-03,Refund,25.00,\"$1,225.00\"",
	}, "\n")

	result := Parse(raw, "savings.csv")

	if len(result.Errors) != 0 {
		t.Fatalf("Errors = %v, want none", result.Errors)
	}
	want := []string{"1100", "200", "1225"}
	for i, w := range want {
		if !result.Transactions[i].Balance.Equal(decimal.RequireFromString(w)) {
			t.Errorf("Transactions[%d].Balance = %s, want %s", i, result.Transactions[i].Balance, w)
		}
	}
	if !result.Candidate.Balance.Equal(decimal.RequireFromString("1225")) {
		t.Errorf("Candidate.Balance = %s, want 1225", result.Candidate.Balance)
	}
}

func TestParse_AmountColumnExcludesBalance(t *testing.T) {
	header := []string{"date", "description", "balance amount", "amount"}
	cols := inferColumns(header)

	if cols.amount != 3 {
		t.Errorf("amount column = %d, want 3", cols.amount)
	}
	if cols.balance != 2 {
		t.Errorf("balance column = %d, want 2", cols.balance)
	}
}

func TestParse_MissingColumnsDegradedMode(t *testing.T) {
	raw := "Reference,Amount\nA1,10.00\nA2,5.00\n"

	result := Parse(raw, "weird.csv")

	if len(result.Errors) != 2 {
		t.Fatalf("Errors = %v, want date and description errors", result.Errors)
	}
	if len(result.Transactions) != 2 {
		t.Errorf("len(Transactions) = %d, want 2 in degraded mode", len(result.Transactions))
	}
	if !result.Candidate.Balance.Equal(decimal.RequireFromString("15")) {
		t.Errorf("Candidate.Balance = %s, want 15", result.Candidate.Balance)
	}
}

func TestParse_CapsRows(t *testing.T) {
	var b strings.Builder
	b.WriteString("Date,Description,Amount\n")
	for i := 0; i < MaxRows+20; i++ {
		fmt.Fprintf(&b, "2024-03-01,Item %d,1.00\n", i)
	}

	result := Parse(b.String(), "big.csv")

	if len(result.Transactions) != MaxRows {
		t.Errorf("len(Transactions) = %d, want %d", len(result.Transactions), MaxRows)
	}
	if result.DroppedRows != 20 {
		t.Errorf("DroppedRows = %d, want 20", result.DroppedRows)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none for truncation", result.Warnings)
	}
	if !result.Candidate.Balance.Equal(decimal.NewFromInt(MaxRows)) {
		t.Errorf("Candidate.Balance = %s, want %d", result.Candidate.Balance, MaxRows)
	}
}

func TestParse_SemicolonDelimiter(t *testing.T) {
	raw := "Date;Description;Amount\n2024-01-01;\"Coffee; large\";-4.50\n"

	result := Parse(raw, "export.csv")

	if len(result.Transactions) != 1 {
		t.Fatalf("len(Transactions) = %d, want 1", len(result.Transactions))
	}
	if got := result.Transactions[0].Description; got != "Coffee; large" {
		t.Errorf("Description = %q, want %q", got, "Coffee; large")
	}
}

func TestParse_Deterministic(t *testing.T) {
	raw := "Date,Description,Amount\n2024-01-01,Coffee,-4.50\nbad,Oops,1\n2024-01-02,Paycheck,2000.00\n"

	first := Parse(raw, "statement.csv")
	for i := 0; i < 5; i++ {
		again := Parse(raw, "statement.csv")
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("Parse() run %d differs from first run", i)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"-4.50", "-4.50"},
		{"$1,234.56", "1234.56"},
		{"(12.00)", "-12"},
		{"€ 7", "7"},
		{"", "0"},
		{"n/a", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAmount(tt.input)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("parseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestDisplayNameAndMask(t *testing.T) {
	if got := displayName("/tmp/uploads/Chase Checking.csv"); got != "Chase Checking" {
		t.Errorf("displayName() = %q", got)
	}
	a, b := maskedNumberFor("a.csv"), maskedNumberFor("a.csv")
	if a != b {
		t.Errorf("maskedNumberFor() not stable: %q vs %q", a, b)
	}
	if len(a) != len("****0000") {
		t.Errorf("maskedNumberFor() = %q, want 4 masked digits", a)
	}
}
