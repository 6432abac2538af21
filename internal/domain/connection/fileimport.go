package connection

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"accountlink/internal/domain/account"
	"accountlink/internal/domain/importer"
	"accountlink/internal/shared/simulate"
)

// MaxFileSize is the per-file upload ceiling.
const MaxFileSize int64 = 10 << 20

var acceptedExtensions = map[string]bool{
	".csv": true,
	".ofx": false,
	".qif": false,
}

// Upload is one file handed to the import sub-flow.
type Upload struct {
	Name    string
	Size    int64
	Content []byte
}

// FileReport is the outcome of a single uploaded file. Rejected files keep their
// diagnostics so the user can see why.
type FileReport struct {
	Name         string   `json:"name"`
	Accepted     bool     `json:"accepted"`
	AccountID    string   `json:"accountId,omitempty"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	Transactions int      `json:"transactions"`
	DroppedRows  int      `json:"droppedRows,omitempty"`
}

// FileImport parses uploaded exports into one account per file.
type FileImport struct {
	clock  clockwork.Clock
	delay  time.Duration
	logger *zap.Logger
}

var _ Method = (*FileImport)(nil)

// NewFileImport creates the file-import sub-flow.
func NewFileImport(clock clockwork.Clock, timing Timing, logger *zap.Logger) *FileImport {
	return &FileImport{clock: clock, delay: timing.PerFile, logger: logger}
}

func (f *FileImport) Kind() Kind { return KindFile }

// Produce processes every upload independently; one bad file never hides the others.
func (f *FileImport) Produce(ctx context.Context, in Input) Result {
	result := newResult(KindFile)

	if len(in.Files) == 0 {
		result.Errors = append(result.Errors, "Select at least one file to import")
		return result
	}

	for _, upload := range in.Files {
		if err := simulate.Wait(ctx, f.clock, f.delay); err != nil {
			result.Errors = append(result.Errors, cancelledMessage(err))
			return result
		}

		report, rec := f.importFile(upload)
		if rec != nil {
			result.Accounts = append(result.Accounts, *rec)
		}
		for _, msg := range report.Errors {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", report.Name, msg))
		}
		for _, msg := range report.Warnings {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", report.Name, msg))
		}
		result.Files = append(result.Files, report)
	}

	f.logger.Info("file import complete",
		zap.Int("files", len(in.Files)),
		zap.Int("accounts", len(result.Accounts)),
		zap.Int("errors", len(result.Errors)),
	)
	return result
}

func (f *FileImport) importFile(upload Upload) (FileReport, *account.Record) {
	name := filepath.Base(upload.Name)
	report := FileReport{Name: name, Errors: []string{}, Warnings: []string{}}

	ext := strings.ToLower(filepath.Ext(name))
	parsable, known := acceptedExtensions[ext]
	if !known {
		report.Errors = append(report.Errors, "unsupported file type, upload a CSV, OFX or QIF file")
		return report, nil
	}

	if !parsable {
		report.Errors = append(report.Errors,
			fmt.Sprintf("%s import is not supported yet, please export your transactions as CSV", strings.ToUpper(ext[1:])))
		return report, nil
	}

	size := upload.Size
	if size == 0 {
		size = int64(len(upload.Content))
	}
	if size > MaxFileSize {
		report.Errors = append(report.Errors, fmt.Sprintf("exceeds the %d MB size limit", MaxFileSize>>20))
		return report, nil
	}

	parsed := importer.Parse(string(upload.Content), name)
	report.Errors = append(report.Errors, parsed.Errors...)
	report.Warnings = append(report.Warnings, parsed.Warnings...)
	report.Transactions = len(parsed.Transactions)
	report.DroppedRows = parsed.DroppedRows

	if parsed.HasErrors() {
		f.logger.Info("import file rejected", zap.String("file", name), zap.Strings("errors", parsed.Errors))
		return report, nil
	}

	rec := account.Accept(account.Draft{
		Name:          parsed.Candidate.Name,
		Institution:   parsed.Candidate.Institution,
		Category:      account.CategoryChecking,
		AccountNumber: parsed.Candidate.MaskedNumber,
		Balance:       parsed.Candidate.Balance,
		Currency:      parsed.Candidate.Currency,
	})
	report.Accepted = true
	report.AccountID = rec.ID
	return report, &rec
}
