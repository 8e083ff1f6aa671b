// Package validate checks ledger integrity before it is persisted.
package validate

import (
	"time"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
)

// Result contains all validation errors and warnings for a ledger.
type Result struct {
	Errors   []Issue
	Warnings []Issue
}

// Issue describes one finding against one transaction.
type Issue struct {
	ID      string
	Field   string
	Value   string
	Message string
}

// Ledger performs a full integrity pass: errors are conditions that would
// corrupt deduplication or aggregation (missing/duplicate ids, broken
// dates, empty labels); warnings are survivable oddities (rows kept
// without a month bucket, rows carrying the categorization-error
// sentinel).
func Ledger(l *domain.Ledger) *Result {
	result := &Result{
		Errors:   []Issue{},
		Warnings: []Issue{},
	}

	seen := make(map[string]bool)
	for _, txn := range l.Transactions() {
		if txn.ID == "" {
			result.Errors = append(result.Errors, Issue{
				ID: txn.ID, Field: "ID", Message: "transaction ID cannot be empty",
			})
		} else if seen[txn.ID] {
			result.Errors = append(result.Errors, Issue{
				ID: txn.ID, Field: "ID", Value: txn.ID, Message: "duplicate transaction ID",
			})
		}
		seen[txn.ID] = true

		if txn.Label == "" {
			result.Errors = append(result.Errors, Issue{
				ID: txn.ID, Field: "Label", Message: "label cannot be empty",
			})
		}
		if txn.Category == "" {
			result.Errors = append(result.Errors, Issue{
				ID: txn.ID, Field: "Category", Message: "category cannot be empty",
			})
		}

		if txn.Date != "" {
			if _, err := time.Parse("2006-01-02", txn.Date); err != nil {
				result.Errors = append(result.Errors, Issue{
					ID: txn.ID, Field: "Date", Value: txn.Date,
					Message: "date is not in YYYY-MM-DD form",
				})
			} else if txn.Month != domain.MonthBucket(txn.Date) {
				result.Errors = append(result.Errors, Issue{
					ID: txn.ID, Field: "Month", Value: txn.Month,
					Message: "month bucket does not match date",
				})
			}
		} else {
			result.Warnings = append(result.Warnings, Issue{
				ID: txn.ID, Field: "Date",
				Message: "no parsed date; excluded from month-filtered views",
			})
		}

		if txn.Category == domain.CategoryError {
			result.Warnings = append(result.Warnings, Issue{
				ID: txn.ID, Field: "Category", Value: txn.Category,
				Message: "categorization failed for this row; re-run after fixing rules",
			})
		}
	}

	return result
}
