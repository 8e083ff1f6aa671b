package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	position            INTEGER PRIMARY KEY,
	id                  TEXT NOT NULL UNIQUE,
	date                TEXT NOT NULL,
	month               TEXT NOT NULL,
	label               TEXT NOT NULL,
	supplier            TEXT NOT NULL,
	amount              REAL NOT NULL,
	raw_category        TEXT NOT NULL,
	raw_category_parent TEXT NOT NULL,
	category            TEXT NOT NULL
);
`

// SQLiteStore persists the ledger in a SQLite database. Same contract as
// FileStore; useful once the ledger outgrows a flat file. position keeps
// the append order so loads reproduce ledger order exactly.
type SQLiteStore struct {
	db       *sql.DB
	path     string
	fallback string
}

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLiteStore(path, fallback string) (*SQLiteStore, error) {
	if fallback == "" {
		fallback = domain.DefaultFallback
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: path, Err: err}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "load", Path: path, Err: fmt.Errorf("schema: %w", err)}
	}
	return &SQLiteStore{db: db, path: path, fallback: fallback}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads every transaction in append order. Legacy category labels are
// migrated the same way the file store migrates them.
func (s *SQLiteStore) Load() (*domain.Ledger, error) {
	rows, err := s.db.Query(`
		SELECT id, date, month, label, supplier, amount, raw_category, raw_category_parent, category
		FROM transactions ORDER BY position`)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	defer rows.Close()

	ledger := domain.NewLedger()
	for rows.Next() {
		var txn domain.Transaction
		if err := rows.Scan(&txn.ID, &txn.Date, &txn.Month, &txn.Label, &txn.Supplier,
			&txn.Amount, &txn.RawCategory, &txn.RawCategoryParent, &txn.Category); err != nil {
			return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
		}
		txn.Category = domain.MigrateCategory(txn.Category, s.fallback)
		if err := ledger.Add(txn); err != nil {
			return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	return ledger, nil
}

// Save rewrites the whole ledger in one transaction: delete everything,
// insert everything. All-or-nothing, mirroring the file store's atomic
// rename.
func (s *SQLiteStore) Save(ledger *domain.Ledger) error {
	if ledger == nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: fmt.Errorf("ledger cannot be nil")}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM transactions`); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}

	stmt, err := tx.Prepare(`
		INSERT INTO transactions (position, id, date, month, label, supplier, amount, raw_category, raw_category_parent, category)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	defer stmt.Close()

	for i, txn := range ledger.Transactions() {
		if _, err := stmt.Exec(i, txn.ID, txn.Date, txn.Month, txn.Label, txn.Supplier,
			txn.Amount, txn.RawCategory, txn.RawCategoryParent, txn.Category); err != nil {
			return &PersistenceError{Op: "save", Path: s.path, Err: fmt.Errorf("transaction %s: %w", txn.ID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}
