// Package dedup provides transaction identity via SHA256 fingerprinting and
// idempotent ledger merging.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
)

// Fingerprint creates a SHA256 hash of the transaction's immutable fields.
// Format: SHA256("{date}|{amount}|{label}|{supplier}")
// Amount is formatted with 2 decimal places. Label and supplier are
// normalized (lowercase, trimmed). A missing supplier must be passed as the
// empty string so that legacy rows without a supplier column compute the
// same ID as rows carrying an empty supplier.
//
// Date is the canonical YYYY-MM-DD form, or the raw export text when the
// date failed to parse; it must not be empty. A blank date or label means
// the identity cannot be derived, and a wrong ID would silently corrupt
// deduplication, so both are hard errors.
func Fingerprint(date string, amount float64, label, supplier string) (string, error) {
	if strings.TrimSpace(date) == "" {
		return "", fmt.Errorf("fingerprint: date cannot be empty")
	}
	if strings.TrimSpace(label) == "" {
		return "", fmt.Errorf("fingerprint: label cannot be empty")
	}

	normalizedLabel := strings.ToLower(strings.TrimSpace(label))
	normalizedSupplier := strings.ToLower(strings.TrimSpace(supplier))
	formattedAmount := fmt.Sprintf("%.2f", amount)

	input := fmt.Sprintf("%s|%s|%s|%s", date, formattedAmount, normalizedLabel, normalizedSupplier)

	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}

// MergeResult reports the outcome of merging a batch into a ledger.
type MergeResult struct {
	Ledger   *domain.Ledger
	Accepted int
	Rejected int

	duplicateExamples []string
}

// DuplicateExamples returns up to maxDuplicateExamples rejected labels,
// for operator-facing summaries.
func (r *MergeResult) DuplicateExamples() []string {
	return append([]string(nil), r.duplicateExamples...)
}

const maxDuplicateExamples = 5

// Merge combines an incoming batch with the existing ledger, rejecting
// every record whose ID is already present. Accepted records keep their
// original relative order, appended after the existing entries. The
// existing ledger is never mutated; the merged ledger is a new value.
//
// Merge is idempotent: applying the same batch twice yields the same ledger
// as applying it once. A batch with internal duplicates (two rows sharing
// an ID in one upload) results in a single surviving copy.
func Merge(existing *domain.Ledger, incoming []domain.Transaction) (*MergeResult, error) {
	if existing == nil {
		existing = domain.NewLedger()
	}

	result := &MergeResult{Ledger: existing.Clone()}

	for _, txn := range incoming {
		if result.Ledger.Contains(txn.ID) {
			result.Rejected++
			if len(result.duplicateExamples) < maxDuplicateExamples {
				result.duplicateExamples = append(result.duplicateExamples, txn.Label)
			}
			continue
		}
		if err := result.Ledger.Add(txn); err != nil {
			return nil, fmt.Errorf("merge failed for transaction %q: %w", txn.Label, err)
		}
		result.Accepted++
	}

	return result, nil
}
