// Package ingest parses Boursobank CSV exports into ledger transactions.
//
// The export is a semicolon-delimited UTF-8 file whose header must carry at
// least dateOp, label and amount (header names are matched after trimming,
// case-insensitive). Structural problems surface as *ImportError and abort
// the import with the ledger unchanged; row-scoped problems are recorded in
// the Report and never escalate to batch failure.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/dedup"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/rules"
)

// ImportError is a recoverable, batch-scoped failure: the upload is
// malformed (wrong delimiter, missing required columns, unreadable
// structure). The caller decides how to surface it.
type ImportError struct {
	Reason string
	Err    error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("import failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("import failed: %s", e.Reason)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// RowError records a single excluded row. Row failures never abort the
// batch; the count is surfaced to the caller through the Report.
type RowError struct {
	Line   int
	Field  string
	Value  string
	Reason string
}

func (e RowError) String() string {
	return fmt.Sprintf("line %d: %s %q: %s", e.Line, e.Field, e.Value, e.Reason)
}

// Report is the outcome of ingesting one upload: the fully-populated
// transactions plus row-level accounting.
type Report struct {
	Transactions []domain.Transaction
	Dropped      []RowError // rows excluded from the batch

	// DateFailures counts rows kept with an empty month bucket because
	// their date did not parse. They stay in the ledger but are excluded
	// from month-filtered aggregation.
	DateFailures int

	// Per-tier categorization counts for the import summary.
	Internal      int
	Uncategorized int
	RuleErrors    int
}

// Ingestor turns raw upload bytes into categorized, fingerprinted
// transactions. Stateless apart from the rule engine, so one ingestor can
// serve every import in a session.
type Ingestor struct {
	engine *rules.Engine
}

// New creates an ingestor that categorizes rows with the given engine.
func New(engine *rules.Engine) *Ingestor {
	return &Ingestor{engine: engine}
}

// Required header names, compared after trim + lowercase.
const (
	colDate     = "dateop"
	colLabel    = "label"
	colAmount   = "amount"
	colCategory = "category"
	colParent   = "categoryparent"
	colSupplier = "supplierfound"
)

// Ingest parses one upload. The returned error is always a *ImportError
// (or nil); per-row failures are reported in the Report instead.
func (ing *Ingestor) Ingest(r io.Reader) (*Report, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &ImportError{Reason: "unreadable CSV structure", Err: err}
	}
	if len(records) == 0 {
		return nil, &ImportError{Reason: "file is empty"}
	}

	columns, err := indexHeader(records[0])
	if err != nil {
		var importErr *ImportError
		if errors.As(err, &importErr) {
			return nil, importErr
		}
		return nil, &ImportError{Reason: "invalid header", Err: err}
	}

	report := &Report{Transactions: make([]domain.Transaction, 0, len(records)-1)}

	for i, record := range records[1:] {
		line := i + 2 // 1-based, after the header row

		// Skip blank rows (trailing newline artifacts).
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		txn, rowErr := ing.parseRow(record, columns, line, report)
		if rowErr != nil {
			report.Dropped = append(report.Dropped, *rowErr)
			continue
		}
		report.Transactions = append(report.Transactions, *txn)
	}

	return report, nil
}

// indexHeader maps the columns we consume to their positions. Missing
// required columns are an *ImportError naming what was expected.
func indexHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(stripQuotes(name)))
		if _, exists := columns[key]; !exists {
			columns[key] = i
		}
	}

	var missing []string
	for _, required := range []string{colDate, colLabel, colAmount} {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, &ImportError{Reason: fmt.Sprintf(
			"missing required columns %v (is this a semicolon-delimited Boursobank export?)", missing)}
	}

	return columns, nil
}

func (ing *Ingestor) parseRow(record []string, columns map[string]int, line int, report *Report) (*domain.Transaction, *RowError) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(stripQuotes(record[idx]))
	}

	label := field(colLabel)
	if label == "" {
		return nil, &RowError{Line: line, Field: "label", Reason: "label cannot be empty"}
	}

	amountText := field(colAmount)
	amount, err := ParseAmount(amountText)
	if err != nil {
		return nil, &RowError{Line: line, Field: "amount", Value: amountText, Reason: err.Error()}
	}

	rawDate := field(colDate)
	date, month := parseDate(rawDate)
	if date == "" {
		report.DateFailures++
	}

	txn := domain.Transaction{
		Date:              date,
		Month:             month,
		Label:             label,
		Supplier:          field(colSupplier), // empty string when the column is absent
		Amount:            amount,
		RawCategory:       field(colCategory),
		RawCategoryParent: field(colParent),
	}

	category, tier := ing.engine.CategorizeDetailed(txn)
	txn.Category = category
	switch tier {
	case rules.TierInternal:
		report.Internal++
	case rules.TierFallback:
		report.Uncategorized++
	case rules.TierError:
		report.RuleErrors++
	}

	// Identity is derived from the canonical date when available, else the
	// raw export text, so re-imports of the same file stay stable either way.
	idDate := date
	if idDate == "" {
		idDate = rawDate
	}
	id, err := dedup.Fingerprint(idDate, txn.Amount, txn.Label, txn.Supplier)
	if err != nil {
		return nil, &RowError{Line: line, Field: "id", Value: rawDate, Reason: err.Error()}
	}
	txn.ID = id

	return &txn, nil
}

// ParseAmount converts the export's amount encoding to a float: spaces
// (including non-breaking) are thousands separators, the comma is the
// decimal separator. "1 234,56" parses to 1234.56.
func ParseAmount(text string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' {
			return -1
		}
		return r
	}, text)
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return 0, fmt.Errorf("amount cannot be empty")
	}
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("not a valid amount")
	}
	return amount, nil
}

// parseDate returns the canonical YYYY-MM-DD form and its month bucket, or
// empty strings when the export date does not parse.
func parseDate(text string) (date, month string) {
	parsed, err := time.Parse("2006-01-02", text)
	if err != nil {
		return "", ""
	}
	iso := parsed.Format("2006-01-02")
	return iso, domain.MonthBucket(iso)
}

// stripQuotes removes stray quote characters; the export wraps fields in
// quotes inconsistently.
func stripQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, "")
}
