package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// budgetFile is the YAML shape of the budget configuration:
//
//	budgets:
//	  Alimentation: 400
//	  Transport: 150
type budgetFile struct {
	Budgets map[string]float64 `yaml:"budgets"`
}

// LoadBudgets reads the optional category -> monthly limit mapping.
// A missing file means no budgets configured.
func LoadBudgets(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]float64{}, nil
		}
		return nil, fmt.Errorf("failed to read budgets file: %w", err)
	}

	var file budgetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse budgets file %q: %w", path, err)
	}
	for category, limit := range file.Budgets {
		if limit < 0 {
			return nil, fmt.Errorf("budget for %q cannot be negative", category)
		}
	}
	if file.Budgets == nil {
		file.Budgets = map[string]float64{}
	}
	return file.Budgets, nil
}
