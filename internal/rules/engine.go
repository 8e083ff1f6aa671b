// Package rules implements the tiered transaction categorization engine.
//
// Precedence is an explicit ordered list of matchers, tried in fixed order
// with first non-empty result winning:
//
//  1. internal-transfer detection (overrides everything else)
//  2. user rules, in list order
//  3. auto rules, in rule-file order
//  4. fallback label
//
// Each tier is independently testable via the Matcher interface.
package rules

import (
	_ "embed"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/domain"
)

//go:embed auto_rules.yaml
var embeddedAutoRules []byte

// Tier identifies which precedence level produced a category.
type Tier string

const (
	TierInternal Tier = "internal"
	TierUser     Tier = "user"
	TierAuto     Tier = "auto"
	TierFallback Tier = "fallback"
	TierError    Tier = "error"
)

// Matcher is one precedence tier: it either claims the transaction with a
// category or passes.
type Matcher interface {
	Match(txn domain.Transaction) (category string, ok bool)
}

// normalize lowercases, trims, and strips diacritics so that keyword
// matching is insensitive to case and accents. Boursobank exports mix
// accented and unaccented spellings of the same phrases ("reçus"/"recus");
// folding both sides makes the comparison stable.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		// Fall back to the raw string; matching stays case-insensitive.
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// searchText is the haystack user and auto rules match against: the
// bank-provided supplier hint concatenated with the statement label.
func searchText(txn domain.Transaction) string {
	return normalize(txn.Supplier + " " + txn.Label)
}

// internalCategoryPhrases are matched against the bank-assigned category
// hints; internalLabelPhrases against the statement label.
var (
	internalParentPhrase    = "mouvements internes"
	internalCategoryPhrases = []string{
		"virements recus de comptes a comptes",
		"virements emis de comptes a comptes",
	}
	internalLabelPhrases = []string{
		"virement depuis livret a",
		"vir virement depuis livret a",
		"virement depuis boursobank",
		"vir virement depuis boursobank",
	}
)

// InternalTransferMatcher detects movements between the user's own accounts
// (checking <-> savings). Highest-priority tier.
type InternalTransferMatcher struct{}

// Match returns CategoryInternal when the bank hints or the label carry an
// internal-transfer phrase.
func (InternalTransferMatcher) Match(txn domain.Transaction) (string, bool) {
	rawParent := normalize(txn.RawCategoryParent)
	rawCategory := normalize(txn.RawCategory)

	if strings.Contains(rawParent, internalParentPhrase) || strings.Contains(rawCategory, internalParentPhrase) {
		return domain.CategoryInternal, true
	}
	for _, phrase := range internalCategoryPhrases {
		if strings.Contains(rawCategory, phrase) {
			return domain.CategoryInternal, true
		}
	}

	label := normalize(txn.Label)
	for _, phrase := range internalLabelPhrases {
		if strings.Contains(label, phrase) {
			return domain.CategoryInternal, true
		}
	}

	return "", false
}

// UserRule is a user-defined keyword -> category mapping. The rule list is
// ordered; earlier rules win.
type UserRule struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category"`
}

// UserRuleMatcher applies user rules in list order, first match wins.
type UserRuleMatcher struct {
	Rules []UserRule
}

// Match checks each rule's keyword as a substring of the searchable text.
func (m UserRuleMatcher) Match(txn domain.Transaction) (string, bool) {
	text := searchText(txn)
	for _, rule := range m.Rules {
		if rule.Keyword == "" {
			continue
		}
		if strings.Contains(text, normalize(rule.Keyword)) {
			return rule.Category, true
		}
	}
	return "", false
}

// AutoRule maps one category to its ordered keyword list.
type AutoRule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// AutoRuleMatcher is the lower-priority fallback tier of built-in rules.
// Rules are held as an ordered list (not a map) so iteration order is the
// rule-file order, keeping categorization deterministic per run.
type AutoRuleMatcher struct {
	Rules []AutoRule
}

// Match checks each category's keywords against the searchable text.
func (m AutoRuleMatcher) Match(txn domain.Transaction) (string, bool) {
	text := searchText(txn)
	for _, rule := range m.Rules {
		for _, keyword := range rule.Keywords {
			if keyword == "" {
				continue
			}
			if strings.Contains(text, normalize(keyword)) {
				return rule.Category, true
			}
		}
	}
	return "", false
}

// Engine evaluates the precedence tiers for one transaction at a time.
// It is safe to call for every row independently and in any order; a full
// ledger recategorization is just Categorize over every stored transaction.
type Engine struct {
	internal InternalTransferMatcher
	user     UserRuleMatcher
	auto     AutoRuleMatcher
	fallback string
}

// Config assembles an engine. Zero-value fields get sensible defaults:
// empty rule lists and the DefaultFallback label.
type Config struct {
	UserRules []UserRule
	AutoRules []AutoRule
	Fallback  string
}

// NewEngine creates a categorization engine from the given rule sets.
func NewEngine(cfg Config) *Engine {
	fallback := cfg.Fallback
	if fallback == "" {
		fallback = domain.DefaultFallback
	}
	return &Engine{
		user:     UserRuleMatcher{Rules: cfg.UserRules},
		auto:     AutoRuleMatcher{Rules: cfg.AutoRules},
		fallback: fallback,
	}
}

// Fallback returns the configured fallback label.
func (e *Engine) Fallback() string {
	return e.fallback
}

// UserRules returns a copy of the user rule list in priority order.
func (e *Engine) UserRules() []UserRule {
	return append([]UserRule(nil), e.user.Rules...)
}

// Categorize returns the category label for a transaction. Total: always
// returns exactly one label, never empty.
func (e *Engine) Categorize(txn domain.Transaction) string {
	category, _ := e.CategorizeDetailed(txn)
	return category
}

// CategorizeDetailed returns the category plus the tier that produced it,
// so callers can count rule coverage. An unexpected panic while evaluating
// a tier is scoped to the row: the transaction gets the sentinel
// CategoryError instead of aborting the batch.
func (e *Engine) CategorizeDetailed(txn domain.Transaction) (category string, tier Tier) {
	defer func() {
		if r := recover(); r != nil {
			category = domain.CategoryError
			tier = TierError
		}
	}()

	if cat, ok := e.internal.Match(txn); ok {
		return cat, TierInternal
	}
	if cat, ok := e.user.Match(txn); ok {
		return cat, TierUser
	}
	if cat, ok := e.auto.Match(txn); ok {
		return cat, TierAuto
	}
	return e.fallback, TierFallback
}
