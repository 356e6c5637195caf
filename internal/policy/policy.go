// Package policy holds domain safety policies: the judge prompt, the
// escalation thresholds, and metadata. All evaluation is delegated to the
// LLM judge — a policy carries no pattern rules of its own.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EscalationConfig tunes when a call escalates beyond per-verdict actions.
type EscalationConfig struct {
	MaxConsecutiveFlags    int  `yaml:"max_consecutive_flags" json:"max_consecutive_flags"`
	AutoEscalateOnCritical bool `yaml:"auto_escalate_on_critical" json:"auto_escalate_on_critical"`
	TrendEscalation        bool `yaml:"trend_escalation" json:"trend_escalation"`
}

// DefaultEscalation returns the standard escalation thresholds.
func DefaultEscalation() EscalationConfig {
	return EscalationConfig{
		MaxConsecutiveFlags:    3,
		AutoEscalateOnCritical: true,
		TrendEscalation:        true,
	}
}

// Policy is a domain-specific safety policy backed by an LLM judge.
type Policy struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Domain      string `yaml:"domain" json:"domain"`
	Description string `yaml:"description" json:"description"`
	// JudgePrompt tells the judge what to evaluate and how to score.
	JudgePrompt string `yaml:"judge_prompt" json:"judge_prompt"`
	// KnowledgeBase is appended to the judge prompt when present, so
	// domain reference material travels with the policy.
	KnowledgeBase  string            `yaml:"knowledge_base" json:"knowledge_base"`
	Version        string            `yaml:"version" json:"version"`
	RegulatoryRefs []string          `yaml:"regulatory_refs" json:"regulatory_refs"`
	Escalation     *EscalationConfig `yaml:"escalation" json:"escalation"`
}

// EffectivePrompt assembles the judge prompt plus knowledge base.
func (p *Policy) EffectivePrompt() string {
	if p.KnowledgeBase == "" {
		return p.JudgePrompt
	}
	return p.JudgePrompt + "\n\n--- KNOWLEDGE BASE ---\n" + p.KnowledgeBase
}

// LoadFile reads a policy from a YAML file.
func LoadFile(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("policy file %s missing name", path)
	}
	if p.Version == "" {
		p.Version = "1.0"
	}
	return &p, nil
}
