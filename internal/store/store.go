// Package store persists the ledger and budget configuration.
//
// The discipline is: load once at session start, mutate only through the
// merger or a full recategorization, write the whole ledger back after
// every mutation. No partial writes; the file store uses an atomic
// temp-then-rename, the SQLite store a single transaction.
package store

import (
	"fmt"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
)

// LedgerStore is the persistence contract shared by the file and SQLite
// backends.
type LedgerStore interface {
	// Load reads the persisted ledger; a missing file/database yields an
	// empty ledger, not an error.
	Load() (*domain.Ledger, error)
	// Save rewrites the full persisted ledger.
	Save(ledger *domain.Ledger) error
}

// PersistenceError is fatal to the operation but recoverable at the
// session level: the in-memory ledger remains the source of truth, and the
// caller must warn that state is not durable.
type PersistenceError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
