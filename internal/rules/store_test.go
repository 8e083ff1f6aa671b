package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadUserRules_MissingFile(t *testing.T) {
	rules, err := LoadUserRules(filepath.Join(t.TempDir(), "rules.json"))
	if err != nil {
		t.Fatalf("LoadUserRules() error = %v, want nil for missing file", err)
	}
	if len(rules) != 0 {
		t.Errorf("LoadUserRules() = %v, want empty set", rules)
	}
}

func TestSaveAndLoadUserRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	saved := []UserRule{
		{Keyword: "carrefour", Category: "Alimentation"},
		{Keyword: "sncf", Category: "Transport"},
	}

	if err := SaveUserRules(path, saved); err != nil {
		t.Fatalf("SaveUserRules() error = %v", err)
	}

	loaded, err := LoadUserRules(path)
	if err != nil {
		t.Fatalf("LoadUserRules() error = %v", err)
	}
	if len(loaded) != len(saved) {
		t.Fatalf("loaded %d rules, want %d", len(loaded), len(saved))
	}
	for i := range saved {
		if loaded[i] != saved[i] {
			t.Errorf("rule[%d] = %+v, want %+v (order must survive the round trip)", i, loaded[i], saved[i])
		}
	}
}

func TestLoadUserRules_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", "{not json"},
		{"empty keyword", `[{"keyword":"","category":"X"}]`},
		{"empty category", `[{"keyword":"x","category":""}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rules.json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadUserRules(path); err == nil {
				t.Error("LoadUserRules() = nil error, want error")
			}
		})
	}
}

func TestAddUserRule(t *testing.T) {
	rules, err := AddUserRule(nil, "carrefour", "Alimentation")
	if err != nil {
		t.Fatalf("AddUserRule() error = %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("len = %d, want 1", len(rules))
	}

	t.Run("duplicate keyword rejected", func(t *testing.T) {
		if _, err := AddUserRule(rules, "CARREFOUR", "Autre"); err == nil {
			t.Error("AddUserRule() = nil error for duplicate keyword, want error")
		}
	})

	t.Run("empty keyword rejected", func(t *testing.T) {
		if _, err := AddUserRule(rules, "  ", "Autre"); err == nil {
			t.Error("AddUserRule() = nil error for blank keyword, want error")
		}
	})

	t.Run("appends at the end", func(t *testing.T) {
		updated, err := AddUserRule(rules, "sncf", "Transport")
		if err != nil {
			t.Fatal(err)
		}
		if updated[1].Keyword != "sncf" {
			t.Errorf("new rule at index %d, want appended last", 1)
		}
		// Input slice must be untouched.
		if len(rules) != 1 {
			t.Errorf("input slice len = %d after add, want 1", len(rules))
		}
	})
}

func TestRemoveUserRule(t *testing.T) {
	rules := []UserRule{
		{Keyword: "a", Category: "A"},
		{Keyword: "b", Category: "B"},
		{Keyword: "c", Category: "C"},
	}

	updated, err := RemoveUserRule(rules, 1)
	if err != nil {
		t.Fatalf("RemoveUserRule() error = %v", err)
	}
	if len(updated) != 2 || updated[0].Keyword != "a" || updated[1].Keyword != "c" {
		t.Errorf("RemoveUserRule() = %v, want [a c]", updated)
	}

	for _, index := range []int{-1, 3} {
		if _, err := RemoveUserRule(rules, index); err == nil {
			t.Errorf("RemoveUserRule(%d) = nil error, want out of range", index)
		}
	}
}

func TestLoadAutoRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auto.yaml")
	content := `categories:
  - category: Alimentation
    keywords:
      - carrefour
      - lidl
  - category: Transport
    keywords:
      - sncf
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadAutoRulesFromFile(path)
	if err != nil {
		t.Fatalf("LoadAutoRulesFromFile() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("len = %d, want 2", len(rules))
	}
	if rules[0].Category != "Alimentation" || len(rules[0].Keywords) != 2 {
		t.Errorf("rule[0] = %+v, want Alimentation with 2 keywords", rules[0])
	}
	if rules[1].Category != "Transport" {
		t.Errorf("rule[1] = %+v, want Transport (file order must be kept)", rules[1])
	}
}

func TestParseAutoRules_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "categories: ["},
		{"empty category", "categories:\n  - category: \"\"\n    keywords: [x]"},
		{"no keywords", "categories:\n  - category: X\n    keywords: []"},
		{"blank keyword", "categories:\n  - category: X\n    keywords: [\" \"]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseAutoRules([]byte(tt.content)); err == nil {
				t.Error("parseAutoRules() = nil error, want error")
			}
		})
	}
}
