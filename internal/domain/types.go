// Package domain defines the transaction ledger and its invariants.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Reserved category labels. CategoryInternal marks transfers between the
// user's own accounts; they are excluded from income/expense totals and
// tracked as savings flow instead.
const (
	CategoryInternal = "Mouvement interne"
	CategoryError    = "Erreur catégorisation"

	// DefaultFallback is the label applied when no rule matches. Earlier
	// exports of this schema used LegacyFallback; MigrateCategory maps it
	// forward at load time.
	DefaultFallback = "Divers"
	LegacyFallback  = "Non catégorisé"
)

// ErrDuplicateTransaction is returned when adding a transaction whose ID
// already exists in the ledger.
var ErrDuplicateTransaction = errors.New("transaction already exists")

// Transaction is one bank-account movement from a Boursobank export.
// Sign convention:
//
//	Negative = money out (expense, or transfer into savings)
//	Positive = money in (income, or transfer out of savings)
//
// Zero amounts are legal (fee waivers).
type Transaction struct {
	ID   string `json:"id"`
	Date string `json:"date"` // YYYY-MM-DD, empty when the export date failed to parse
	// Month is the YYYY-MM bucket derived from Date. Empty when Date is
	// empty; such rows stay in the ledger but are excluded from
	// month-filtered aggregation.
	Month             string  `json:"month"`
	Label             string  `json:"label"`
	Supplier          string  `json:"supplier"`
	Amount            float64 `json:"amount"`
	RawCategory       string  `json:"rawCategory"`
	RawCategoryParent string  `json:"rawCategoryParent"`
	Category          string  `json:"category"`
}

// Validate checks the fields the ledger invariants depend on.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction ID cannot be empty")
	}
	if t.Date != "" {
		if _, err := time.Parse("2006-01-02", t.Date); err != nil {
			return fmt.Errorf("invalid date format: %w", err)
		}
	}
	if t.Label == "" {
		return fmt.Errorf("label cannot be empty")
	}
	if t.Category == "" {
		return fmt.Errorf("category cannot be empty")
	}
	return nil
}

// MonthBucket derives the YYYY-MM grouping key from an ISO date.
// Returns "" for dates too short to carry a month.
func MonthBucket(isoDate string) string {
	if len(isoDate) < 7 {
		return ""
	}
	return isoDate[:7]
}

// MigrateCategory maps labels from earlier schema generations onto the
// current one. Applied once when loading a persisted ledger.
func MigrateCategory(category, fallback string) string {
	switch category {
	case LegacyFallback, "":
		return fallback
	case "💰 Mouvement interne": // first-generation label carried an emoji prefix
		return CategoryInternal
	default:
		return category
	}
}

// Ledger is the append-only collection of all transactions. It is the sole
// owner of the persisted collection; readers get defensive copies. The
// unique-ID invariant is enforced on every Add.
type Ledger struct {
	transactions []Transaction
	ids          map[string]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		transactions: []Transaction{},
		ids:          make(map[string]struct{}),
	}
}

// Add appends a validated transaction. Returns ErrDuplicateTransaction
// (wrapped) when the ID is already present.
func (l *Ledger) Add(txn Transaction) error {
	if err := txn.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}
	if _, exists := l.ids[txn.ID]; exists {
		return fmt.Errorf("transaction %s: %w", txn.ID, ErrDuplicateTransaction)
	}
	l.transactions = append(l.transactions, txn)
	l.ids[txn.ID] = struct{}{}
	return nil
}

// Contains reports whether a transaction with this ID is in the ledger.
func (l *Ledger) Contains(id string) bool {
	_, ok := l.ids[id]
	return ok
}

// Len returns the number of transactions.
func (l *Ledger) Len() int {
	return len(l.transactions)
}

// Transactions returns a defensive copy of the transactions slice,
// preserving insertion order.
func (l *Ledger) Transactions() []Transaction {
	return append([]Transaction(nil), l.transactions...)
}

// Months returns the distinct non-empty month buckets, sorted ascending.
func (l *Ledger) Months() []string {
	seen := make(map[string]struct{})
	for _, txn := range l.transactions {
		if txn.Month != "" {
			seen[txn.Month] = struct{}{}
		}
	}
	months := make([]string, 0, len(seen))
	for m := range seen {
		months = append(months, m)
	}
	sort.Strings(months)
	return months
}

// Clone returns a deep copy. Merge operations work on clones so callers
// holding the pre-merge ledger never observe mutation.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		transactions: append([]Transaction(nil), l.transactions...),
		ids:          make(map[string]struct{}, len(l.ids)),
	}
	for id := range l.ids {
		c.ids[id] = struct{}{}
	}
	return c
}

// Recategorize re-derives every transaction's category in place. The
// categorizer must be pure; identity fields are never touched, so IDs are
// stable across recategorization.
func (l *Ledger) Recategorize(categorize func(Transaction) string) {
	for i := range l.transactions {
		l.transactions[i].Category = categorize(l.transactions[i])
	}
}

// MarshalJSON implements custom JSON marshaling for Ledger
func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		Transactions []Transaction `json:"transactions"`
	}{
		Transactions: l.transactions,
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Ledger
func (l *Ledger) UnmarshalJSON(data []byte) error {
	aux := &struct {
		Transactions []Transaction `json:"transactions"`
	}{}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	l.transactions = aux.Transactions
	l.ids = make(map[string]struct{}, len(aux.Transactions))
	for _, txn := range aux.Transactions {
		l.ids[txn.ID] = struct{}{}
	}
	return nil
}
