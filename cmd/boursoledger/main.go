package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/firestore"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/rules"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/scanner"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/server"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/session"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/stats"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/store"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/ui"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/validate"
)

const (
	version = "0.1.0"
)

var (
	// Global flags
	versionFlag = flag.Bool("version", false, "Show version")

	// Import flags
	inputDir = flag.String("input", "", "Directory or CSV file with bank exports")
	dryRun   = flag.Bool("dry-run", false, "Show what would be imported without writing")
	verbose  = flag.Bool("verbose", false, "Show detailed import logs")

	// Persistence flags
	ledgerFile = flag.String("ledger", "ledger.csv", "Ledger CSV file")
	sqliteFile = flag.String("sqlite", "", "Use a SQLite ledger at this path instead of CSV")

	// Categorization flags
	rulesFile     = flag.String("rules", "rules.json", "User categorization rules file")
	autoRulesFile = flag.String("auto-rules", "", "Keyword rules YAML (default: embedded rules)")
	fallback      = flag.String("fallback", domain.DefaultFallback, "Category for unmatched transactions")
	recategorize  = flag.Bool("recategorize", false, "Recategorize the stored ledger and exit")

	// Reporting flags
	budgetsFile = flag.String("budgets", "", "Budget limits YAML file")
	month       = flag.String("month", "", "Report on one month (YYYY-MM) instead of all time")

	// Server and mirror flags
	serve       = flag.Bool("serve", false, "Run the dashboard API server")
	addr        = flag.String("addr", ":8080", "API server listen address")
	projectID   = flag.String("project", "", "Firebase project ID (required with -serve or -sync-user)")
	credentials = flag.String("credentials", "", "Service account credentials file")
	staticDir   = flag.String("static", "", "Static frontend directory to serve")
	syncUser    = flag.String("sync-user", "", "Mirror the ledger to Firestore for this user ID")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `boursoledger - Boursobank export importer and budget dashboard backend

Usage:
  boursoledger [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Import every CSV export under a directory
  boursoledger -input ~/exports -ledger ledger.csv

  # Monthly report with budget alerts
  boursoledger -ledger ledger.csv -budgets budgets.yaml -month 2025-03

  # Recategorize the whole ledger after editing rules
  boursoledger -ledger ledger.csv -rules rules.json -recategorize

  # Serve the dashboard API
  boursoledger -ledger ledger.csv -serve -project my-project

`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("boursoledger version %s\n", version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	sess, err := openSession()
	if err != nil {
		return err
	}

	if *serve {
		return runServer(ctx, sess)
	}

	if *recategorize {
		if err := sess.Recategorize(); err != nil {
			return fmt.Errorf("recategorize failed: %w", err)
		}
		ui.Success(fmt.Sprintf("Recategorized %d transactions", sess.Ledger().Len()))
		report(sess)
		return nil
	}

	if *inputDir != "" {
		if err := runImport(sess); err != nil {
			return err
		}
	}

	if *syncUser != "" {
		if err := runSync(ctx, sess); err != nil {
			return err
		}
	}

	report(sess)
	return nil
}

// openSession builds the store, loads rules and budgets, and opens the
// ledger session shared by every mode.
func openSession() (*session.Session, error) {
	var ledgerStore store.LedgerStore
	if *sqliteFile != "" {
		s, err := store.NewSQLiteStore(*sqliteFile, *fallback)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
		}
		ledgerStore = s
	} else {
		ledgerStore = store.NewFileStore(*ledgerFile, *fallback)
	}

	var autoRules []rules.AutoRule
	var err error
	if *autoRulesFile != "" {
		autoRules, err = rules.LoadAutoRulesFromFile(*autoRulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load keyword rules: %w", err)
		}
	} else {
		autoRules, err = rules.LoadEmbeddedAutoRules()
		if err != nil {
			return nil, fmt.Errorf("failed to load embedded keyword rules: %w", err)
		}
	}

	var budgets map[string]float64
	if *budgetsFile != "" {
		budgets, err = store.LoadBudgets(*budgetsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load budgets: %w", err)
		}
	}

	sess, err := session.Open(session.Config{
		Store:     ledgerStore,
		RulesPath: *rulesFile,
		AutoRules: autoRules,
		Budgets:   budgets,
		Fallback:  *fallback,
	})
	if err != nil {
		return nil, err
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "Loaded ledger with %d transactions\n", sess.Ledger().Len())
		fmt.Fprintf(os.Stderr, "Loaded %d user rules, %d keyword rules\n",
			len(sess.UserRules()), len(autoRules))
	}
	return sess, nil
}

// runImport scans for exports and feeds each one through the session.
func runImport(sess *session.Session) error {
	if !*verbose {
		ui.Header("Importing Bank Exports")
		ui.Step(1, 3, "Scanning for exports")
	}

	files, err := findExports(*inputDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no CSV exports found in %s\n\nPlease check:\n  - The path is correct\n  - Files have the .csv extension\n\nRun with -verbose to see details", *inputDir)
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "Found %d export files\n", len(files))
		for _, f := range files {
			fmt.Fprintf(os.Stderr, "  - %s\n", f)
		}
	} else {
		ui.Success(fmt.Sprintf("Found %d export files", len(files)))
	}

	if *dryRun {
		fmt.Printf("Dry run complete. Would import %d files into %s.\n", len(files), ledgerPath())
		return nil
	}

	if !*verbose {
		ui.Step(2, 3, "Importing transactions")
	}

	var (
		totalAccepted   int
		totalDuplicates int
		totalDropped    int
		duplicateSample []string
	)
	for i, path := range files {
		if *verbose {
			fmt.Fprintf(os.Stderr, "  Importing %s\n", path)
		} else {
			percentage := float64(i+1) / float64(len(files)) * 100
			fmt.Fprintf(os.Stderr, "\r  Progress: %d/%d files (%.0f%%)...", i+1, len(files), percentage)
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		summary, err := sess.Import(f)
		f.Close()
		if err != nil {
			if session.IsPersistenceError(err) {
				// Imported rows are in memory but the ledger file did
				// not update. Stop before the next file compounds it.
				return fmt.Errorf("import of %s succeeded but the ledger was not saved: %w", path, err)
			}
			return fmt.Errorf("import failed for file %d of %d (%s): %w", i+1, len(files), path, err)
		}

		totalAccepted += summary.Accepted
		totalDuplicates += summary.RejectedDuplicate
		totalDropped += len(summary.Dropped)
		duplicateSample = append(duplicateSample, summary.DuplicateExamples...)

		if *verbose {
			fmt.Fprintf(os.Stderr, "    parsed=%d accepted=%d duplicates=%d dropped=%d internal=%d uncategorized=%d\n",
				summary.Parsed, summary.Accepted, summary.RejectedDuplicate,
				len(summary.Dropped), summary.Internal, summary.Uncategorized)
			for _, rowErr := range summary.Dropped {
				fmt.Fprintf(os.Stderr, "    dropped %s\n", rowErr.String())
			}
			if summary.DateFailures > 0 {
				fmt.Fprintf(os.Stderr, "    %d rows kept without a parseable date\n", summary.DateFailures)
			}
		}
	}
	if !*verbose {
		fmt.Fprintf(os.Stderr, "\r  Progress: %d/%d files (100%%) - Complete!\n", len(files), len(files))
	}

	if totalDuplicates > 0 {
		ui.Info(fmt.Sprintf("Skipped %d duplicate transactions", totalDuplicates))
		if *verbose {
			for i, example := range duplicateSample {
				if i >= 5 {
					break
				}
				fmt.Fprintf(os.Stderr, "    - %s\n", example)
			}
		}
	}
	if totalDropped > 0 {
		ui.Warning(fmt.Sprintf("Dropped %d unparsable rows", totalDropped))
	}

	if !*verbose {
		ui.Step(3, 3, "Validating ledger")
	}
	result := validate.Ledger(sess.Ledger())
	if len(result.Errors) > 0 {
		ui.Error(fmt.Sprintf("Validation failed with %d errors", len(result.Errors)))
		for i, issue := range result.Errors {
			if i >= 5 && !*verbose {
				ui.Error(fmt.Sprintf("... and %d more errors", len(result.Errors)-5))
				break
			}
			ui.Error(fmt.Sprintf("%s [%s]: %s", issue.ID, issue.Field, issue.Message))
		}
		return fmt.Errorf("validation failed with %d errors", len(result.Errors))
	}
	if len(result.Warnings) > 0 {
		ui.Warning(fmt.Sprintf("Validation produced %d warnings", len(result.Warnings)))
		if *verbose {
			for _, issue := range result.Warnings {
				fmt.Fprintf(os.Stderr, "  - %s [%s]: %s\n", issue.ID, issue.Field, issue.Message)
			}
		}
	} else {
		ui.Success("Validation passed")
	}

	ui.Success(fmt.Sprintf("Imported %d new transactions (%d total in ledger)",
		totalAccepted, sess.Ledger().Len()))
	return nil
}

// report prints period statistics, the month comparison, and budget alerts.
func report(sess *session.Session) {
	period := *month
	st := sess.Stats(period)

	fmt.Fprintln(os.Stderr)
	if period != "" {
		ui.Header(fmt.Sprintf("Report for %s", period))
	} else {
		ui.Header("Report (all time)")
	}

	ui.BlueText(fmt.Sprintf("  Expenses:  %10.2f €", st.TotalExpenses))
	ui.BlueText(fmt.Sprintf("  Income:    %10.2f €", st.TotalIncome))
	ui.BlueText(fmt.Sprintf("  Balance:   %10.2f €", st.Balance))
	if st.SavingsIn != 0 || st.SavingsOut != 0 {
		ui.BlueText(fmt.Sprintf("  Savings:   %10.2f € in, %.2f € out (net %.2f €)",
			st.SavingsIn, st.SavingsOut, st.NetSavings))
	}
	if period != "" && st.AvgDailyExpense > 0 {
		ui.BlueText(fmt.Sprintf("  Avg/day:   %10.2f €", st.AvgDailyExpense))
	}
	if st.LargestExpense.Label != "" {
		ui.BlueText(fmt.Sprintf("  Largest:   %10.2f € (%s)", st.LargestExpense.Amount, st.LargestExpense.Label))
	}

	if *verbose && len(st.ByCategory) > 0 {
		fmt.Fprintln(os.Stderr, "\n  By category:")
		for _, category := range sortedCategories(st.ByCategory) {
			fmt.Fprintf(os.Stderr, "    %-24s %10.2f €\n", category, st.ByCategory[category])
		}
	}

	for _, alert := range sess.Alerts(period) {
		if alert.Level == stats.AlertDanger {
			ui.Error(alert.Message)
		} else {
			ui.Warning(alert.Message)
		}
	}
}

func sortedCategories(byCategory map[string]float64) []string {
	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	// Highest spend first, name as tiebreaker.
	sort.Slice(categories, func(i, j int) bool {
		a, b := categories[i], categories[j]
		if byCategory[a] != byCategory[b] {
			return byCategory[a] > byCategory[b]
		}
		return a < b
	})
	return categories
}

// findExports accepts either a single CSV file or a directory to scan.
func findExports(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err == nil && !info.IsDir() {
		if strings.ToLower(filepath.Ext(input)) != ".csv" {
			return nil, fmt.Errorf("%s is not a CSV export", input)
		}
		return []string{input}, nil
	}
	files, err := scanner.New(input).Scan()
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", input, err)
	}
	return files, nil
}

func ledgerPath() string {
	if *sqliteFile != "" {
		return *sqliteFile
	}
	return *ledgerFile
}

// runSync mirrors the ledger into Firestore for the configured user.
func runSync(ctx context.Context, sess *session.Session) error {
	if *projectID == "" {
		return fmt.Errorf("-project is required with -sync-user")
	}

	client, err := firestore.NewClient(ctx, *projectID, *credentials)
	if err != nil {
		return fmt.Errorf("failed to create Firestore client: %w", err)
	}
	defer client.Close()

	created, err := client.SyncLedger(ctx, *syncUser, sess.Ledger())
	if err != nil {
		return fmt.Errorf("sync failed after %d documents: %w", created, err)
	}

	// Read the mirror back so the reported total reflects what the
	// dashboard will actually see.
	mirrored, err := client.GetTransactions(ctx, *syncUser)
	if err != nil {
		ui.Warning(fmt.Sprintf("Mirrored %d new transactions but could not verify the mirror: %v", created, err))
		return nil
	}
	ui.Success(fmt.Sprintf("Mirrored %d new transactions (%d total in Firestore)", created, len(mirrored)))
	return nil
}

// runServer starts the dashboard API around the open session.
func runServer(ctx context.Context, sess *session.Session) error {
	if *projectID == "" {
		return fmt.Errorf("-project is required with -serve")
	}

	srv, err := server.New(ctx, sess, server.Config{
		ProjectID:       *projectID,
		CredentialsFile: *credentials,
		StaticDir:       *staticDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	ui.Header("Ledger API Server")
	ui.Info(fmt.Sprintf("Ledger: %s (%d transactions)", ledgerPath(), sess.Ledger().Len()))
	ui.Info(fmt.Sprintf("Listening on %s", *addr))

	return http.ListenAndServe(*addr, srv.Handler())
}
