package local

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules maps a policy id to the expression evaluated for it.
type Rules map[string]string

type rulesFile struct {
	Rules map[string]string `yaml:"rules"`
}

func LoadRules(path string) (Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules reads a YAML document of the form
//
//	rules:
//	  adult: age >= 18
//	  good-score: score > 700
func ParseRules(raw []byte) (Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	out := make(Rules, len(f.Rules))
	for id, rule := range f.Rules {
		id = strings.TrimSpace(id)
		rule = strings.TrimSpace(rule)
		if id == "" || rule == "" {
			return nil, fmt.Errorf("rule %q: id and expression are required", id)
		}
		out[id] = rule
	}
	return out, nil
}
