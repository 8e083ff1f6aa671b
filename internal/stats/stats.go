// Package stats computes period statistics from the ledger. Read-only:
// nothing here mutates the ledger.
package stats

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
)

// AllMonths selects the whole ledger instead of one YYYY-MM bucket.
const AllMonths = ""

// LargestExpense is the single expense row with maximum absolute amount.
// Zero-valued when the period has no expenses.
type LargestExpense struct {
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

// Stats is the aggregator output consumed by the presentation layer.
// Amount fields are absolute values except Balance and NetSavings, which
// keep their sign.
type Stats struct {
	TotalExpenses   float64            `json:"totalExpenses"`
	TotalIncome     float64            `json:"totalIncome"`
	Balance         float64            `json:"balance"`
	ByCategory      map[string]float64 `json:"byCategory"`
	SavingsIn       float64            `json:"savingsIn"`
	SavingsOut      float64            `json:"savingsOut"`
	NetSavings      float64            `json:"netSavings"`
	AvgDailyExpense float64            `json:"avgDailyExpense"`
	LargestExpense  LargestExpense     `json:"largestExpense"`
	ExpenseCount    int                `json:"expenseCount"`
}

// Compute derives statistics for one period. period is either AllMonths or
// a YYYY-MM bucket; filtering is an equality test against each
// transaction's month, so rows with an unparsable date (empty month) never
// appear in a month-filtered view.
//
// Internal transfers are excluded from income/expense totals and tracked as
// savings flow: a negative internal amount is money leaving checking into
// savings (SavingsIn), a positive one is money coming back (SavingsOut).
func Compute(ledger *domain.Ledger, period string) Stats {
	stats := Stats{ByCategory: map[string]float64{}}
	if ledger == nil {
		return stats
	}

	maxDay := 0
	for _, txn := range ledger.Transactions() {
		if period != AllMonths && txn.Month != period {
			continue
		}

		if txn.Category == domain.CategoryInternal {
			if txn.Amount < 0 {
				stats.SavingsIn += -txn.Amount
			} else {
				stats.SavingsOut += txn.Amount
			}
			continue
		}

		switch {
		case txn.Amount < 0:
			expense := -txn.Amount
			stats.TotalExpenses += expense
			stats.ByCategory[txn.Category] += expense
			stats.ExpenseCount++
			if expense > stats.LargestExpense.Amount {
				stats.LargestExpense = LargestExpense{Label: txn.Label, Amount: expense}
			}
			if day := dayOfMonth(txn.Date); day > maxDay {
				maxDay = day
			}
		case txn.Amount > 0:
			stats.TotalIncome += txn.Amount
		}
	}

	stats.NetSavings = stats.SavingsIn - stats.SavingsOut
	stats.Balance = stats.TotalIncome - stats.TotalExpenses

	// Average daily spend only makes sense inside one month; guard the
	// division so an expense-free month yields 0, not a panic.
	if period != AllMonths && maxDay > 0 {
		stats.AvgDailyExpense = stats.TotalExpenses / float64(maxDay)
	}

	return stats
}

// dayOfMonth extracts the day from a YYYY-MM-DD date, 0 when absent.
func dayOfMonth(isoDate string) int {
	if len(isoDate) != 10 {
		return 0
	}
	day, err := strconv.Atoi(isoDate[8:])
	if err != nil {
		return 0
	}
	return day
}

// MonthRow is one line of the monthly comparison view.
type MonthRow struct {
	Month      string  `json:"month"` // YYYY-MM
	Income     float64 `json:"income"`
	Expenses   float64 `json:"expenses"`
	Balance    float64 `json:"balance"`
	NetSavings float64 `json:"netSavings"`
}

// MonthlyComparison recomputes the headline figures per month bucket,
// sorted chronologically. Rows without a month bucket are skipped.
func MonthlyComparison(ledger *domain.Ledger) []MonthRow {
	if ledger == nil {
		return nil
	}

	months := ledger.Months()
	comparison := make([]MonthRow, 0, len(months))
	for _, month := range months {
		monthStats := Compute(ledger, month)
		comparison = append(comparison, MonthRow{
			Month:      month,
			Income:     monthStats.TotalIncome,
			Expenses:   monthStats.TotalExpenses,
			Balance:    monthStats.Balance,
			NetSavings: monthStats.NetSavings,
		})
	}
	return comparison
}

// AlertLevel distinguishes budget overruns from approaching limits.
type AlertLevel string

const (
	AlertDanger  AlertLevel = "danger"
	AlertWarning AlertLevel = "warning"
)

// Alert reports one category whose spend is at or approaching its
// configured monthly limit.
type Alert struct {
	Level      AlertLevel `json:"level"`
	Category   string     `json:"category"`
	Spent      float64    `json:"spent"`
	Limit      float64    `json:"limit"`
	Percentage float64    `json:"percentage"`
	Message    string     `json:"message"`
}

// Alerts evaluates configured budgets against the period's per-category
// spend. Danger at >=100% (message reports the overage), warning from 80%,
// nothing below. Categories without spend, and non-positive limits, are
// skipped. Output is sorted by category for stable presentation.
func Alerts(stats Stats, budgets map[string]float64) []Alert {
	categories := make([]string, 0, len(budgets))
	for category := range budgets {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var alerts []Alert
	for _, category := range categories {
		limit := budgets[category]
		if limit <= 0 {
			continue
		}
		spent, ok := stats.ByCategory[category]
		if !ok {
			continue
		}

		percentage := spent / limit * 100
		switch {
		case percentage >= 100:
			alerts = append(alerts, Alert{
				Level:      AlertDanger,
				Category:   category,
				Spent:      spent,
				Limit:      limit,
				Percentage: percentage,
				Message:    fmt.Sprintf("budget %s dépassé de %.2f €", category, spent-limit),
			})
		case percentage >= 80:
			alerts = append(alerts, Alert{
				Level:      AlertWarning,
				Category:   category,
				Spent:      spent,
				Limit:      limit,
				Percentage: percentage,
				Message:    fmt.Sprintf("budget %s utilisé à %.0f%%", category, percentage),
			})
		}
	}
	return alerts
}
