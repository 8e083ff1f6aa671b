package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// autoRuleFile is the top-level YAML structure for auto rules.
type autoRuleFile struct {
	Categories []AutoRule `yaml:"categories"`
}

// LoadEmbeddedAutoRules loads the built-in auto-rule set compiled into the
// binary.
func LoadEmbeddedAutoRules() ([]AutoRule, error) {
	rules, err := parseAutoRules(embeddedAutoRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded auto rules (possible binary corruption): %w", err)
	}
	return rules, nil
}

// LoadAutoRulesFromFile loads an auto-rule set from a filesystem path,
// overriding the embedded defaults.
func LoadAutoRulesFromFile(path string) ([]AutoRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read auto rules file: %w", err)
	}
	rules, err := parseAutoRules(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load auto rules from %q: %w", path, err)
	}
	return rules, nil
}

func parseAutoRules(data []byte) ([]AutoRule, error) {
	var file autoRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules (check syntax, indentation, and field names): %w", err)
	}
	for i, rule := range file.Categories {
		if strings.TrimSpace(rule.Category) == "" {
			return nil, fmt.Errorf("auto rule %d: category cannot be empty", i)
		}
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("auto rule %d (%s): keywords cannot be empty", i, rule.Category)
		}
		for j, keyword := range rule.Keywords {
			if strings.TrimSpace(keyword) == "" {
				return nil, fmt.Errorf("auto rule %d (%s): keyword %d is empty", i, rule.Category, j)
			}
		}
	}
	return file.Categories, nil
}

// LoadUserRules reads the persisted ordered rule list (a JSON array of
// {keyword, category} objects). A missing file is an empty rule set, not an
// error: first runs have no rules yet.
func LoadUserRules(path string) ([]UserRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []UserRule{}, nil
		}
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var loaded []UserRule
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	for i, rule := range loaded {
		if strings.TrimSpace(rule.Keyword) == "" {
			return nil, fmt.Errorf("rule %d: keyword cannot be empty", i)
		}
		if strings.TrimSpace(rule.Category) == "" {
			return nil, fmt.Errorf("rule %d (%s): category cannot be empty", i, rule.Keyword)
		}
	}
	return loaded, nil
}

// SaveUserRules rewrites the full rule list after every add/delete.
// Uses atomic write pattern: write to temp file, then rename.
func SaveUserRules(path string, userRules []UserRule) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(userRules, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// AddUserRule appends a rule, rejecting keywords already present
// (case-insensitive), matching the dashboard's duplicate check.
func AddUserRule(userRules []UserRule, keyword, category string) ([]UserRule, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, fmt.Errorf("keyword cannot be empty")
	}
	if strings.TrimSpace(category) == "" {
		return nil, fmt.Errorf("category cannot be empty")
	}
	for _, rule := range userRules {
		if strings.EqualFold(rule.Keyword, keyword) {
			return nil, fmt.Errorf("rule for keyword %q already exists", keyword)
		}
	}
	return append(append([]UserRule(nil), userRules...), UserRule{Keyword: keyword, Category: category}), nil
}

// RemoveUserRule deletes the rule at index, preserving the order of the
// rest. Out-of-range indexes are an error so the caller can surface them.
func RemoveUserRule(userRules []UserRule, index int) ([]UserRule, error) {
	if index < 0 || index >= len(userRules) {
		return nil, fmt.Errorf("rule index %d out of range (have %d rules)", index, len(userRules))
	}
	out := append([]UserRule(nil), userRules[:index]...)
	return append(out, userRules[index+1:]...), nil
}
