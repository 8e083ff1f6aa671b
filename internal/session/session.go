// Package session owns the in-memory ledger and rule state for one run.
//
// State is explicit: the session loads everything once, mutates only
// through the merger or a full recategorization, and persists immediately
// after every mutation. There is no ambient lookup; the CLI and the API
// server both go through a Session.
package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/dedup"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/ingest"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/rules"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/stats"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/store"
)

// Config assembles a session. Store is required; RulesPath may point at a
// not-yet-existing file (first run). Fallback defaults to
// domain.DefaultFallback.
type Config struct {
	Store     store.LedgerStore
	RulesPath string
	AutoRules []rules.AutoRule
	Budgets   map[string]float64
	Fallback  string
}

// Session holds the loaded ledger, the rule sets, and the engine built
// from them. Single-user, synchronous: callers serialize access.
type Session struct {
	store     store.LedgerStore
	rulesPath string

	ledger    *domain.Ledger
	userRules []rules.UserRule
	autoRules []rules.AutoRule
	budgets   map[string]float64
	fallback  string
	engine    *rules.Engine
}

// ImportSummary reports one upload end to end: parsing, categorization,
// and deduplication counts.
type ImportSummary struct {
	Parsed            int
	Accepted          int
	RejectedDuplicate int
	Dropped           []ingest.RowError
	DateFailures      int
	Internal          int
	Uncategorized     int
	RuleErrors        int
	DuplicateExamples []string
}

// Open loads the persisted ledger and user rules and builds the engine.
func Open(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	fallback := cfg.Fallback
	if fallback == "" {
		fallback = domain.DefaultFallback
	}

	ledger, err := cfg.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	var userRules []rules.UserRule
	if cfg.RulesPath != "" {
		userRules, err = rules.LoadUserRules(cfg.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}

	budgets := cfg.Budgets
	if budgets == nil {
		budgets = map[string]float64{}
	}

	s := &Session{
		store:     cfg.Store,
		rulesPath: cfg.RulesPath,
		ledger:    ledger,
		userRules: userRules,
		autoRules: cfg.AutoRules,
		budgets:   budgets,
		fallback:  fallback,
	}
	s.rebuildEngine()
	return s, nil
}

func (s *Session) rebuildEngine() {
	s.engine = rules.NewEngine(rules.Config{
		UserRules: s.userRules,
		AutoRules: s.autoRules,
		Fallback:  s.fallback,
	})
}

// Ledger returns the current in-memory ledger.
func (s *Session) Ledger() *domain.Ledger {
	return s.ledger
}

// Engine returns the current categorization engine.
func (s *Session) Engine() *rules.Engine {
	return s.engine
}

// UserRules returns the rule list in priority order.
func (s *Session) UserRules() []rules.UserRule {
	return append([]rules.UserRule(nil), s.userRules...)
}

// Budgets returns the configured category limits.
func (s *Session) Budgets() map[string]float64 {
	out := make(map[string]float64, len(s.budgets))
	for k, v := range s.budgets {
		out[k] = v
	}
	return out
}

// Import runs one upload through ingest, merge, and persist.
//
// Row-level failures never abort the batch and batch-level failures never
// touch the ledger: an *ingest.ImportError is returned with state
// unchanged. A persistence failure after a successful merge returns a
// *store.PersistenceError alongside a valid summary; the in-memory ledger
// is already updated and remains the source of truth, but the caller must
// warn that state is not durable.
func (s *Session) Import(r io.Reader) (*ImportSummary, error) {
	report, err := ingest.New(s.engine).Ingest(r)
	if err != nil {
		return nil, err
	}

	result, err := dedup.Merge(s.ledger, report.Transactions)
	if err != nil {
		return nil, err
	}
	s.ledger = result.Ledger

	summary := &ImportSummary{
		Parsed:            len(report.Transactions),
		Accepted:          result.Accepted,
		RejectedDuplicate: result.Rejected,
		Dropped:           report.Dropped,
		DateFailures:      report.DateFailures,
		Internal:          report.Internal,
		Uncategorized:     report.Uncategorized,
		RuleErrors:        report.RuleErrors,
		DuplicateExamples: result.DuplicateExamples(),
	}

	if err := s.store.Save(s.ledger); err != nil {
		return summary, err
	}
	return summary, nil
}

// AddRule appends a user rule, persists the full rule list, and
// recategorizes the whole ledger under the new rule set.
func (s *Session) AddRule(keyword, category string) error {
	updated, err := rules.AddUserRule(s.userRules, keyword, category)
	if err != nil {
		return err
	}
	return s.replaceRules(updated)
}

// RemoveRule deletes the rule at index and recategorizes.
func (s *Session) RemoveRule(index int) error {
	updated, err := rules.RemoveUserRule(s.userRules, index)
	if err != nil {
		return err
	}
	return s.replaceRules(updated)
}

func (s *Session) replaceRules(updated []rules.UserRule) error {
	if s.rulesPath != "" {
		if err := rules.SaveUserRules(s.rulesPath, updated); err != nil {
			return err
		}
	}
	s.userRules = updated
	s.rebuildEngine()
	return s.Recategorize()
}

// Recategorize re-derives every stored transaction's category with the
// current engine and persists the result. Identity fields never change, so
// IDs are stable across recategorization.
func (s *Session) Recategorize() error {
	s.ledger.Recategorize(s.engine.Categorize)
	return s.store.Save(s.ledger)
}

// Stats computes period statistics from the current ledger.
func (s *Session) Stats(period string) stats.Stats {
	return stats.Compute(s.ledger, period)
}

// MonthlyComparison returns the per-month comparison rows.
func (s *Session) MonthlyComparison() []stats.MonthRow {
	return stats.MonthlyComparison(s.ledger)
}

// Alerts evaluates budgets against the period's spend.
func (s *Session) Alerts(period string) []stats.Alert {
	return stats.Alerts(s.Stats(period), s.budgets)
}

// IsImportError reports whether err is a batch-scoped import failure (the
// ledger was left unchanged).
func IsImportError(err error) bool {
	var importErr *ingest.ImportError
	return errors.As(err, &importErr)
}

// IsPersistenceError reports whether err means the in-memory state updated
// but could not be written back.
func IsPersistenceError(err error) bool {
	var persistErr *store.PersistenceError
	return errors.As(err, &persistErr)
}
