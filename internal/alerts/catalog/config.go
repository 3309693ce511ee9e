package catalog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	alerts "carewatch-cloud/internal/alerts/domain"
)

// StepConfig overrides one escalation step.
type StepConfig struct {
	Method  string `yaml:"method"`
	DelayMS int64  `yaml:"delay_ms"`
}

// Overrides adjusts the built-in catalog from a YAML file. Only the
// sections present are applied.
type Overrides struct {
	Paths         map[string][]StepConfig `yaml:"paths"`
	DisabledRules []string                `yaml:"disabled_rules"`
}

// LoadOverrides reads overrides from path. An empty path yields zero
// overrides.
func LoadOverrides(path string) (Overrides, error) {
	var o Overrides
	if path == "" {
		return o, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return o, err
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, err
	}
	return o, nil
}

// Load builds the catalog, applying overrides on top of the defaults.
func Load(o Overrides) (*Catalog, error) {
	disabled := make(map[string]struct{}, len(o.DisabledRules))
	for _, id := range o.DisabledRules {
		disabled[id] = struct{}{}
	}

	var rules []alerts.Rule
	for _, rule := range defaultRules() {
		if _, ok := disabled[rule.ID]; ok {
			continue
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("catalog: all rules disabled")
	}

	paths := DefaultPaths()
	for severity, steps := range o.Paths {
		replacement := alerts.EscalationPath{Severity: severity}
		for _, step := range steps {
			replacement.Steps = append(replacement.Steps, alerts.EscalationStep{
				Method: step.Method,
				Delay:  time.Duration(step.DelayMS) * time.Millisecond,
			})
		}
		replaced := false
		for i := range paths {
			if paths[i].Severity == severity {
				paths[i] = replacement
				replaced = true
				break
			}
		}
		if !replaced {
			paths = append(paths, replacement)
		}
	}

	return New(rules, paths)
}
