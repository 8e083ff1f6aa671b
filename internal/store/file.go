package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/dedup"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
)

// ledgerColumns is the persisted column order. Loading tolerates older
// files that predate the supplier and id columns; see migrateRecord.
var ledgerColumns = []string{
	"id", "date", "month", "label", "supplier", "amount",
	"rawCategory", "rawCategoryParent", "category",
}

// FileStore persists the ledger as a single semicolon-delimited file with
// every transaction field as a column, rewritten in full on every save.
type FileStore struct {
	path     string
	fallback string // category applied when migrating legacy fallback labels
}

// NewFileStore creates a store writing to path. fallback is the configured
// fallback category label, used by the load-time schema migration.
func NewFileStore(path, fallback string) *FileStore {
	if fallback == "" {
		fallback = domain.DefaultFallback
	}
	return &FileStore{path: path, fallback: fallback}
}

// Load reads the persisted ledger. A missing file is an empty ledger.
// Legacy rows (no id or supplier column, first-generation category labels)
// are migrated in place; the migrated form is what Save writes back.
func (s *FileStore) Load() (*domain.Ledger, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewLedger(), nil
		}
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	if len(records) == 0 {
		return domain.NewLedger(), nil
	}

	columns := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		columns[strings.TrimSpace(name)] = i
	}
	if _, ok := columns["label"]; !ok {
		return nil, &PersistenceError{Op: "load", Path: s.path,
			Err: fmt.Errorf("not a ledger file: missing label column")}
	}

	ledger := domain.NewLedger()
	for i, record := range records[1:] {
		txn, err := s.migrateRecord(record, columns)
		if err != nil {
			return nil, &PersistenceError{Op: "load", Path: s.path,
				Err: fmt.Errorf("row %d: %w", i+2, err)}
		}
		if err := ledger.Add(*txn); err != nil {
			return nil, &PersistenceError{Op: "load", Path: s.path,
				Err: fmt.Errorf("row %d: %w", i+2, err)}
		}
	}
	return ledger, nil
}

// migrateRecord reads one persisted row, applying the one-shot schema
// migration: absent supplier becomes "", absent id is recomputed from the
// identity fields, and legacy category labels map onto the current schema.
func (s *FileStore) migrateRecord(record []string, columns map[string]int) (*domain.Transaction, error) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	amount, err := strconv.ParseFloat(field("amount"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", field("amount"), err)
	}

	txn := domain.Transaction{
		ID:                field("id"),
		Date:              field("date"),
		Month:             field("month"),
		Label:             field("label"),
		Supplier:          field("supplier"),
		Amount:            amount,
		RawCategory:       field("rawCategory"),
		RawCategoryParent: field("rawCategoryParent"),
		Category:          domain.MigrateCategory(field("category"), s.fallback),
	}
	if txn.Month == "" && txn.Date != "" {
		txn.Month = domain.MonthBucket(txn.Date)
	}
	if txn.ID == "" {
		id, err := dedup.Fingerprint(txn.Date, txn.Amount, txn.Label, txn.Supplier)
		if err != nil {
			return nil, fmt.Errorf("cannot derive id: %w", err)
		}
		txn.ID = id
	}
	return &txn, nil
}

// Save rewrites the whole ledger. Uses atomic write pattern: write to temp
// file, then rename, so an interrupted save never leaves a partial ledger.
func (s *FileStore) Save(ledger *domain.Ledger) error {
	if ledger == nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: fmt.Errorf("ledger cannot be nil")}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}

	var sb strings.Builder
	writer := csv.NewWriter(&sb)
	writer.Comma = ';'

	if err := writer.Write(ledgerColumns); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	for _, txn := range ledger.Transactions() {
		record := []string{
			txn.ID, txn.Date, txn.Month, txn.Label, txn.Supplier,
			strconv.FormatFloat(txn.Amount, 'f', 2, 64),
			txn.RawCategory, txn.RawCategoryParent, txn.Category,
		}
		if err := writer.Write(record); err != nil {
			return &PersistenceError{Op: "save", Path: s.path, Err: err}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, []byte(sb.String()), 0644); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		os.Remove(tempFile)
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}
