// Package compliance validates safety policies against labeled scenario
// suites before they reach production: every case runs through the judge
// and the report scores how the policy actually performed.
package compliance

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/callguardhq/callguard/internal/protocol"
)

// TestCase is one labeled agent response.
type TestCase struct {
	Input        string `yaml:"input" json:"input"`
	ExpectedSafe bool   `yaml:"expected_safe" json:"expected_safe"`
	// ExpectedRiskLevel is optional; empty means any level is acceptable.
	ExpectedRiskLevel protocol.RiskLevel `yaml:"expected_risk_level,omitempty" json:"expected_risk_level,omitempty"`
	Category          string             `yaml:"category,omitempty" json:"category,omitempty"`
	Description       string             `yaml:"description,omitempty" json:"description,omitempty"`
}

// TestSuite is a domain's collection of cases.
type TestSuite struct {
	Name   string     `yaml:"name" json:"name"`
	Domain string     `yaml:"domain,omitempty" json:"domain,omitempty"`
	Cases  []TestCase `yaml:"cases" json:"cases"`
}

// LoadSuite reads a suite from a YAML file.
func LoadSuite(path string) (*TestSuite, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite %s: %w", path, err)
	}
	var suite TestSuite
	if err := yaml.Unmarshal(raw, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite %s: %w", path, err)
	}
	if suite.Name == "" {
		return nil, fmt.Errorf("suite %s missing name", path)
	}
	if len(suite.Cases) == 0 {
		return nil, fmt.Errorf("suite %s has no cases", path)
	}
	for i, c := range suite.Cases {
		if c.Input == "" {
			return nil, fmt.Errorf("suite %s case %d has empty input", path, i)
		}
		if c.ExpectedRiskLevel != "" {
			if _, err := protocol.ParseRiskLevel(string(c.ExpectedRiskLevel)); err != nil {
				return nil, fmt.Errorf("suite %s case %d: %w", path, i, err)
			}
		}
	}
	return &suite, nil
}
