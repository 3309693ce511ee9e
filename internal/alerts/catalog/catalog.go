// Package catalog holds the static rule and escalation path tables. The
// catalog is data, not code: predicates are comparison clauses and the
// whole table can be overridden from a YAML file at load time.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"time"

	alerts "carewatch-cloud/internal/alerts/domain"
)

// Catalog is the immutable rule and path lookup used by the evaluator
// and scheduler.
type Catalog struct {
	groups  []string
	byGroup map[string][]alerts.Rule
	byID    map[string]alerts.Rule
	paths   map[string]alerts.EscalationPath
}

// New constructs a catalog from rules and paths. Within each vital
// group rules are ordered by descending severity so the evaluator
// checks critical before warning.
func New(rules []alerts.Rule, paths []alerts.EscalationPath) (*Catalog, error) {
	if len(rules) == 0 {
		return nil, errors.New("catalog: no rules")
	}
	c := &Catalog{
		byGroup: make(map[string][]alerts.Rule),
		byID:    make(map[string]alerts.Rule),
		paths:   make(map[string]alerts.EscalationPath),
	}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: rule %s: %w", rule.ID, err)
		}
		if _, ok := c.byID[rule.ID]; ok {
			return nil, fmt.Errorf("catalog: duplicate rule id %s", rule.ID)
		}
		c.byID[rule.ID] = rule
		if _, ok := c.byGroup[rule.VitalGroup]; !ok {
			c.groups = append(c.groups, rule.VitalGroup)
		}
		c.byGroup[rule.VitalGroup] = append(c.byGroup[rule.VitalGroup], rule)
	}
	for group, list := range c.byGroup {
		sort.SliceStable(list, func(i, j int) bool {
			return severityRank(list[i].Severity) > severityRank(list[j].Severity)
		})
		c.byGroup[group] = list
	}
	for _, path := range paths {
		if err := path.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: path %s: %w", path.Severity, err)
		}
		c.paths[path.Severity] = path
	}
	return c, nil
}

// Groups returns vital groups in declaration order.
func (c *Catalog) Groups() []string {
	return c.groups
}

// RulesForGroup returns the group's rules, highest severity first.
func (c *Catalog) RulesForGroup(group string) []alerts.Rule {
	return c.byGroup[group]
}

// Rule looks up a rule by id.
func (c *Catalog) Rule(id string) (alerts.Rule, bool) {
	rule, ok := c.byID[id]
	return rule, ok
}

// PathForSeverity returns the escalation path for a severity.
func (c *Catalog) PathForSeverity(severity string) (alerts.EscalationPath, bool) {
	path, ok := c.paths[severity]
	return path, ok
}

func severityRank(value string) int {
	switch value {
	case alerts.SeverityCritical:
		return 3
	case alerts.SeverityWarning:
		return 2
	case alerts.SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(defaultRules(), DefaultPaths())
	if err != nil {
		// The built-in table is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return c
}

func defaultRules() []alerts.Rule {
	return []alerts.Rule{
		{
			ID:         "heart_rate_critical",
			VitalGroup: "heart_rate",
			Predicate: alerts.Predicate{Any: []alerts.ClauseGroup{
				{All: []alerts.Clause{{Vital: alerts.VitalHeartRate, Operator: alerts.OperatorLess, Threshold: 40}}},
				{All: []alerts.Clause{{Vital: alerts.VitalHeartRate, Operator: alerts.OperatorGreater, Threshold: 150}}},
			}},
			Severity:      alerts.SeverityCritical,
			MessageFormat: "Heart rate critically out of range: %s bpm",
			RequiresAck:   true,
		},
		{
			ID:         "heart_rate_warning",
			VitalGroup: "heart_rate",
			Predicate: alerts.Predicate{Any: []alerts.ClauseGroup{
				{All: []alerts.Clause{
					{Vital: alerts.VitalHeartRate, Operator: alerts.OperatorGreater, Threshold: 100},
					{Vital: alerts.VitalHeartRate, Operator: alerts.OperatorLessOrEqual, Threshold: 120},
				}},
				{All: []alerts.Clause{
					{Vital: alerts.VitalHeartRate, Operator: alerts.OperatorGreaterOrEqual, Threshold: 50},
					{Vital: alerts.VitalHeartRate, Operator: alerts.OperatorLess, Threshold: 60},
				}},
			}},
			Severity:      alerts.SeverityWarning,
			MessageFormat: "Heart rate outside normal range: %s bpm",
		},
		{
			ID:         "blood_pressure_critical",
			VitalGroup: "blood_pressure",
			Predicate: alerts.Predicate{Any: []alerts.ClauseGroup{
				{All: []alerts.Clause{{Vital: alerts.VitalSystolic, Operator: alerts.OperatorGreater, Threshold: 180}}},
				{All: []alerts.Clause{{Vital: alerts.VitalDiastolic, Operator: alerts.OperatorGreater, Threshold: 120}}},
			}},
			Severity:      alerts.SeverityCritical,
			MessageFormat: "Blood pressure critically high: %s mmHg",
			RequiresAck:   true,
		},
		{
			ID:         "blood_pressure_warning",
			VitalGroup: "blood_pressure",
			Predicate: alerts.Predicate{Any: []alerts.ClauseGroup{
				{All: []alerts.Clause{
					{Vital: alerts.VitalSystolic, Operator: alerts.OperatorGreater, Threshold: 140},
					{Vital: alerts.VitalSystolic, Operator: alerts.OperatorLessOrEqual, Threshold: 180},
				}},
				{All: []alerts.Clause{
					{Vital: alerts.VitalDiastolic, Operator: alerts.OperatorGreater, Threshold: 90},
					{Vital: alerts.VitalDiastolic, Operator: alerts.OperatorLessOrEqual, Threshold: 120},
				}},
			}},
			Severity:      alerts.SeverityWarning,
			MessageFormat: "Blood pressure elevated: %s mmHg",
		},
		{
			ID:         "oxygen_saturation_critical",
			VitalGroup: "oxygen_saturation",
			Predicate: alerts.Predicate{Any: []alerts.ClauseGroup{
				{All: []alerts.Clause{{Vital: alerts.VitalOxygenSaturation, Operator: alerts.OperatorLess, Threshold: 90}}},
			}},
			Severity:      alerts.SeverityCritical,
			MessageFormat: "Oxygen saturation critically low: %s%%",
			RequiresAck:   true,
		},
		{
			ID:         "oxygen_saturation_warning",
			VitalGroup: "oxygen_saturation",
			Predicate: alerts.Predicate{Any: []alerts.ClauseGroup{
				{All: []alerts.Clause{
					{Vital: alerts.VitalOxygenSaturation, Operator: alerts.OperatorGreaterOrEqual, Threshold: 90},
					{Vital: alerts.VitalOxygenSaturation, Operator: alerts.OperatorLess, Threshold: 94},
				}},
			}},
			Severity:      alerts.SeverityWarning,
			MessageFormat: "Oxygen saturation low: %s%%",
		},
		{
			ID:         "temperature_critical",
			VitalGroup: "temperature",
			Predicate: alerts.Predicate{Any: []alerts.ClauseGroup{
				{All: []alerts.Clause{{Vital: alerts.VitalTemperature, Operator: alerts.OperatorGreaterOrEqual, Threshold: 40}}},
				{All: []alerts.Clause{{Vital: alerts.VitalTemperature, Operator: alerts.OperatorLess, Threshold: 35}}},
			}},
			Severity:      alerts.SeverityCritical,
			MessageFormat: "Body temperature critical: %s C",
			RequiresAck:   true,
		},
		{
			ID:         "temperature_high",
			VitalGroup: "temperature",
			Predicate: alerts.Predicate{Any: []alerts.ClauseGroup{
				{All: []alerts.Clause{{Vital: alerts.VitalTemperature, Operator: alerts.OperatorGreater, Threshold: 38}}},
			}},
			Severity:      alerts.SeverityWarning,
			MessageFormat: "Fever detected: %s C",
		},
		{
			ID:         "respiratory_rate_critical",
			VitalGroup: "respiratory_rate",
			Predicate: alerts.Predicate{Any: []alerts.ClauseGroup{
				{All: []alerts.Clause{{Vital: alerts.VitalRespiratoryRate, Operator: alerts.OperatorLess, Threshold: 8}}},
				{All: []alerts.Clause{{Vital: alerts.VitalRespiratoryRate, Operator: alerts.OperatorGreater, Threshold: 30}}},
			}},
			Severity:      alerts.SeverityCritical,
			MessageFormat: "Respiratory rate critically out of range: %s breaths/min",
			RequiresAck:   true,
		},
		{
			ID:         "respiratory_rate_warning",
			VitalGroup: "respiratory_rate",
			Predicate: alerts.Predicate{Any: []alerts.ClauseGroup{
				{All: []alerts.Clause{
					{Vital: alerts.VitalRespiratoryRate, Operator: alerts.OperatorGreater, Threshold: 20},
					{Vital: alerts.VitalRespiratoryRate, Operator: alerts.OperatorLessOrEqual, Threshold: 30},
				}},
				{All: []alerts.Clause{
					{Vital: alerts.VitalRespiratoryRate, Operator: alerts.OperatorGreaterOrEqual, Threshold: 8},
					{Vital: alerts.VitalRespiratoryRate, Operator: alerts.OperatorLess, Threshold: 12},
				}},
			}},
			Severity:      alerts.SeverityWarning,
			MessageFormat: "Respiratory rate outside normal range: %s breaths/min",
		},
	}
}

// DefaultPaths returns the built-in escalation paths. Delays are
// cumulative from alert creation.
func DefaultPaths() []alerts.EscalationPath {
	return []alerts.EscalationPath{
		{
			Severity: alerts.SeverityCritical,
			Steps: []alerts.EscalationStep{
				{Method: alerts.MethodPush, Delay: 0},
				{Method: alerts.MethodSMS, Delay: 30 * time.Second},
				{Method: alerts.MethodVoiceCall, Delay: 60 * time.Second},
				{Method: alerts.MethodEmergencyContact, Delay: 180 * time.Second},
			},
		},
		{
			Severity: alerts.SeverityWarning,
			Steps: []alerts.EscalationStep{
				{Method: alerts.MethodPush, Delay: 0},
				{Method: alerts.MethodSMS, Delay: 10 * time.Minute},
			},
		},
		{
			Severity: alerts.SeverityInfo,
			Steps: []alerts.EscalationStep{
				{Method: alerts.MethodPush, Delay: 0},
			},
		},
	}
}
