// Package importer turns delimited bank exports into an account candidate plus
// per-row diagnostics. It is pure: identical input always yields identical output.
package importer

import (
	"encoding/csv"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxRows is the number of data rows read from a file. Further rows are dropped.
	MaxRows = 100

	// PlaceholderInstitution names the institution of every imported candidate.
	PlaceholderInstitution = "Imported File"

	// ErrEmptyOrInvalid prefixes the diagnostic for files without a header and a data row.
	ErrEmptyOrInvalid = "EmptyOrInvalid"

	defaultCurrency = "USD"
)

var (
	dateKeywords        = []string{"date", "posted", "transaction"}
	descriptionKeywords = []string{"description", "payee", "memo"}

	dateLayouts = []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"1/2/2006",
		"01-02-2006",
		"01/02/06",
		"1/2/06",
		"Jan 2, 2006",
		"2 Jan 2006",
		"2006-01-02 15:04:05",
		time.RFC3339,
	}

	delimiters = []rune{',', ';', '\t', '|'}
)

// Transaction is one parsed data row.
type Transaction struct {
	Row         int             `json:"row"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
}

// Candidate is the account inferred from a file.
type Candidate struct {
	Name         string          `json:"name"`
	Institution  string          `json:"institution"`
	MaskedNumber string          `json:"maskedNumber"`
	Balance      decimal.Decimal `json:"balance"`
	Currency     string          `json:"currency"`
}

// Result carries the candidate together with the diagnostics produced while parsing.
// Errors are structural; Warnings are per-row.
type Result struct {
	Candidate    Candidate     `json:"candidate"`
	Transactions []Transaction `json:"transactions"`
	Errors       []string      `json:"errors"`
	Warnings     []string      `json:"warnings"`
	DroppedRows  int           `json:"droppedRows"`
}

// HasErrors reports whether parsing hit a structural problem.
func (r Result) HasErrors() bool {
	return len(r.Errors) > 0
}

type columns struct {
	date        int
	description int
	amount      int
	balance     int
}

// Parse reads raw delimited text. sourceName is the uploaded file name and only
// feeds the candidate's display name and masked number.
func Parse(raw, sourceName string) Result {
	result := Result{
		Candidate: Candidate{
			Name:         displayName(sourceName),
			Institution:  PlaceholderInstitution,
			MaskedNumber: maskedNumberFor(sourceName),
			Balance:      decimal.Zero,
			Currency:     defaultCurrency,
		},
		Transactions: []Transaction{},
		Errors:       []string{},
		Warnings:     []string{},
	}

	lines := nonBlankLines(raw)
	if len(lines) < 2 {
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s: file must contain a header row and at least one transaction", ErrEmptyOrInvalid))
		return result
	}

	delim := detectDelimiter(lines[0])
	header := splitLine(lines[0], delim)
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	cols := inferColumns(header)
	if cols.date < 0 {
		result.Errors = append(result.Errors, "Could not find a date column in the header")
	}
	if cols.description < 0 {
		result.Errors = append(result.Errors, "Could not find a description column in the header")
	}

	data := lines[1:]
	if len(data) > MaxRows {
		result.DroppedRows = len(data) - MaxRows
		data = data[:MaxRows]
	}

	running := decimal.Zero
	for i, line := range data {
		rowNum := i + 1
		fields := splitLine(line, delim)

		var date time.Time
		if cols.date >= 0 {
			token := field(fields, cols.date)
			parsed, ok := parseDate(token)
			if !ok {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("Row %d: could not parse date %q, row skipped", rowNum, token))
				continue
			}
			date = parsed
		}

		amount := decimal.Zero
		if cols.amount >= 0 {
			amount = parseAmount(field(fields, cols.amount))
		}

		if bal, ok := balanceValue(fields, cols.balance); ok {
			running = bal
		} else {
			running = running.Add(amount)
		}

		result.Transactions = append(result.Transactions, Transaction{
			Row:         rowNum,
			Date:        date,
			Description: field(fields, cols.description),
			Amount:      amount,
			Balance:     running,
		})
	}

	result.Candidate.Balance = running
	return result
}

func nonBlankLines(raw string) []string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// detectDelimiter picks the candidate delimiter appearing most often in the header.
// Ties keep the earlier candidate, so comma wins by default.
func detectDelimiter(header string) rune {
	best, bestCount := ',', 0
	for _, d := range delimiters {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func splitLine(line string, delim rune) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	fields, err := r.Read()
	if err != nil {
		fields = strings.Split(line, string(delim))
	}
	for i, f := range fields {
		fields[i] = strings.TrimSpace(strings.Trim(f, `"'`))
	}
	return fields
}

func inferColumns(header []string) columns {
	cols := columns{
		date:        findColumn(header, dateKeywords),
		description: findColumn(header, descriptionKeywords),
		amount:      -1,
		balance:     -1,
	}
	for i, h := range header {
		if strings.Contains(h, "amount") && !strings.Contains(h, "balance") {
			cols.amount = i
			break
		}
	}
	for i, h := range header {
		if strings.Contains(h, "balance") {
			cols.balance = i
			break
		}
	}
	return cols
}

func findColumn(header []string, keywords []string) int {
	for i, h := range header {
		for _, kw := range keywords {
			if strings.Contains(h, kw) {
				return i
			}
		}
	}
	return -1
}

func field(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

func parseDate(token string) (time.Time, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, token); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseAmount strips currency symbols and thousands separators. Parenthesized
// values are negative. Anything unparseable is zero.
func parseAmount(token string) decimal.Decimal {
	d, ok := cleanDecimal(token)
	if !ok {
		return decimal.Zero
	}
	return d
}

func balanceValue(fields []string, idx int) (decimal.Decimal, bool) {
	if idx < 0 {
		return decimal.Zero, false
	}
	return cleanDecimal(field(fields, idx))
}

func cleanDecimal(token string) (decimal.Decimal, bool) {
	token = strings.TrimSpace(token)
	negative := false
	if strings.HasPrefix(token, "(") && strings.HasSuffix(token, ")") {
		negative = true
		token = token[1 : len(token)-1]
	}

	var b strings.Builder
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-', r == '+':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Abs().Neg()
	}
	return d, true
}

func displayName(sourceName string) string {
	base := filepath.Base(sourceName)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." {
		return "Imported Account"
	}
	return name
}

// maskedNumberFor derives a stable 4-digit suffix from the source name.
func maskedNumberFor(sourceName string) string {
	h := fnv.New32a()
	h.Write([]byte(sourceName))
	return fmt.Sprintf("****%04d", h.Sum32()%10000)
}
