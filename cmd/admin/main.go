package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"accountlink/internal/domain/connection"
	"accountlink/internal/domain/importer"
	"accountlink/internal/domain/verification"
	"accountlink/internal/shared/auth"
	"accountlink/internal/shared/config"
	"accountlink/internal/shared/simulate"
)

const usage = `AccountLink Admin CLI - Offline tools for the account connection wizard

Usage:
  admin <command> [options]

Commands:
  parse-csv      Run the import parser over bank export files
  verify         Dry-run the verification pipeline and tally the outcomes
  institutions   Search the institution catalog
  token          Mint an API token for local testing (needs JWT_SECRET)

Examples:
  # Check how an export would be imported
  admin parse-csv --file=checking.csv,savings.csv

  # Show the transactions the parser found
  admin parse-csv --file=checking.csv --rows

  # Simulate 1000 verification runs with a fixed seed
  admin verify --runs=1000 --seed=42

  # Find an institution
  admin institutions --q=bank

  # Mint a token valid for the API
  admin token --subject=user-1 --email=dev@example.com
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "parse-csv":
		runParseCSV(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "institutions":
		runInstitutions(os.Args[2:])
	case "token":
		runToken(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage + "\n")
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}
}

func runParseCSV(args []string) {
	fs := flag.NewFlagSet("parse-csv", flag.ExitOnError)
	files := fs.String("file", "", "Export file(s) to parse (comma-separated for multiple)")
	rows := fs.Bool("rows", false, "Print every parsed transaction")

	fs.Usage = func() {
		fmt.Println("Usage: admin parse-csv --file=<path>[,<path>...] [--rows]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *files == "" {
		fmt.Println("Error: must specify --file")
		fs.Usage()
		os.Exit(1)
	}

	var uploads []connection.Upload
	for _, path := range strings.Split(*files, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", path, err)
		}
		uploads = append(uploads, connection.Upload{Name: filepath.Base(path), Size: int64(len(content)), Content: content})

		if *rows {
			printRows(importer.Parse(string(content), filepath.Base(path)))
		}
	}

	flow := connection.NewFileImport(clockwork.NewRealClock(), connection.Timing{}, zap.NewNop())
	result := flow.Produce(context.Background(), connection.Input{Files: uploads})

	for _, report := range result.Files {
		printReport(report)
	}
	for _, acc := range result.Accounts {
		fmt.Printf("\nAccount %q (%s) balance %s %s\n", acc.Name, acc.MaskedNumber, acc.Balance.StringFixed(2), acc.Currency)
	}
	if len(result.Accounts) == 0 {
		os.Exit(2)
	}
}

func printReport(report connection.FileReport) {
	fmt.Printf("\n=== %s ===\n", report.Name)
	fmt.Printf("  Accepted:      %v\n", report.Accepted)
	fmt.Printf("  Transactions:  %d\n", report.Transactions)
	if report.DroppedRows > 0 {
		fmt.Printf("  Dropped rows:  %d\n", report.DroppedRows)
	}
	for _, e := range report.Errors {
		fmt.Printf("  Error:   %s\n", e)
	}
	for _, w := range report.Warnings {
		fmt.Printf("  Warning: %s\n", w)
	}
}

func printRows(result importer.Result) {
	for _, tx := range result.Transactions {
		fmt.Printf("  %4d  %s  %-40s %12s %12s\n", tx.Row, tx.Date.Format("2006-01-02"), tx.Description, tx.Amount.StringFixed(2), tx.Balance.StringFixed(2))
	}
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	runs := fs.Int("runs", 1, "Number of pipeline runs")
	seed := fs.Uint64("seed", 0, "Random seed (0 draws from the clock)")
	verbose := fs.Bool("v", false, "Print every check of every run")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *runs < 1 {
		log.Fatalf("--runs must be at least 1")
	}

	src := simulate.NewSource()
	if *seed != 0 {
		src = simulate.NewSeededSource(*seed)
	}
	pipeline := verification.NewPipeline(src, clockwork.NewRealClock(), verification.Timing{}, zap.NewNop())

	tally := make(map[verification.Overall]int)
	checkFailures := make(map[verification.CheckID]int)
	start := time.Now()

	for i := 0; i < *runs; i++ {
		snap, err := pipeline.Run(context.Background())
		if err != nil {
			log.Fatalf("Run %d failed: %v", i+1, err)
		}
		tally[snap.Overall]++
		for _, c := range snap.Checks {
			if c.Status == verification.StatusFailed {
				checkFailures[c.ID]++
			}
		}
		if *verbose {
			fmt.Printf("\n=== Run %d: %s ===\n", i+1, snap.Overall)
			for _, c := range snap.Checks {
				fmt.Printf("  %-22s %-8s %s\n", c.Name, c.Status, c.Message)
			}
		}
	}

	fmt.Printf("\n=== %d run(s) in %v ===\n", *runs, time.Since(start))
	for _, o := range []verification.Overall{verification.OverallPass, verification.OverallWarn, verification.OverallFail} {
		fmt.Printf("  %-5s %6d (%.1f%%)\n", o, tally[o], 100*float64(tally[o])/float64(*runs))
	}
	for _, def := range verification.Catalog() {
		fmt.Printf("  %-22s failed %d time(s)\n", def.Name, checkFailures[def.ID])
	}
}

func runInstitutions(args []string) {
	fs := flag.NewFlagSet("institutions", flag.ExitOnError)
	query := fs.String("q", "", "Name filter (empty lists the popular institutions)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	for _, inst := range connection.SearchInstitutions(*query) {
		credit := ""
		if inst.IssuesCredit {
			credit = "credit"
		}
		fmt.Printf("  %-16s %-28s %s\n", inst.ID, inst.Name, credit)
	}
}

func runToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "", "User id to put in the token")
	email := fs.String("email", "", "Optional email claim")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *subject == "" {
		fmt.Println("Error: must specify --subject")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.AuthEnabled() {
		log.Fatalf("JWT_SECRET is not set")
	}

	token, err := auth.NewJWT(cfg.JWT.Secret).Generate(*subject, *email)
	if err != nil {
		log.Fatalf("Failed to mint token: %v", err)
	}
	fmt.Println(token)
}
