package alerts

import "errors"

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Vital sign keys as produced by the ingestion pipeline.
const (
	VitalHeartRate        = "heart_rate"
	VitalSystolic         = "blood_pressure_systolic"
	VitalDiastolic        = "blood_pressure_diastolic"
	VitalOxygenSaturation = "oxygen_saturation"
	VitalTemperature      = "temperature"
	VitalRespiratoryRate  = "respiratory_rate"
)

type Operator string

const (
	OperatorGreater        Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLess           Operator = "<"
	OperatorLessOrEqual    Operator = "<="
)

// Valid returns true when operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual:
		return true
	default:
		return false
	}
}

// Compare applies the operator to value against threshold.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OperatorGreater:
		return value > threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLess:
		return value < threshold
	case OperatorLessOrEqual:
		return value <= threshold
	default:
		return false
	}
}

// Clause is a single comparison against one vital reading.
type Clause struct {
	Vital     string   `yaml:"vital"`
	Operator  Operator `yaml:"operator"`
	Threshold float64  `yaml:"threshold"`
}

// ClauseGroup is a conjunction: every clause must hold, and every
// referenced vital must be present in the snapshot.
type ClauseGroup struct {
	All []Clause `yaml:"all"`
}

// Predicate is a disjunction of clause groups. It is plain data so the
// rule catalog stays serializable and testable without executable code.
type Predicate struct {
	Any []ClauseGroup `yaml:"any"`
}

// Match evaluates the predicate against named readings. Groups touching
// a vital absent from the readings are false, not errors.
func (p Predicate) Match(readings map[string]float64) bool {
	for _, group := range p.Any {
		if len(group.All) == 0 {
			continue
		}
		matched := true
		for _, clause := range group.All {
			value, ok := readings[clause.Vital]
			if !ok || !clause.Operator.Compare(value, clause.Threshold) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// Rule defines a threshold-based alert rule. Rules are immutable after
// catalog load.
type Rule struct {
	ID            string
	VitalGroup    string
	Predicate     Predicate
	Severity      string
	MessageFormat string
	RequiresAck   bool
}

// Validate checks rule invariants.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.New("alert rule: empty id")
	}
	if r.VitalGroup == "" {
		return errors.New("alert rule: empty vital group")
	}
	if len(r.Predicate.Any) == 0 {
		return errors.New("alert rule: empty predicate")
	}
	for _, group := range r.Predicate.Any {
		for _, clause := range group.All {
			if clause.Vital == "" {
				return errors.New("alert rule: clause missing vital")
			}
			if !clause.Operator.Valid() {
				return errors.New("alert rule: invalid operator")
			}
		}
	}
	switch r.Severity {
	case SeverityCritical, SeverityWarning, SeverityInfo:
	default:
		return errors.New("alert rule: invalid severity")
	}
	return nil
}

// Vitals returns the distinct vital keys the predicate reads.
func (r Rule) Vitals() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range r.Predicate.Any {
		for _, clause := range group.All {
			if _, ok := seen[clause.Vital]; ok {
				continue
			}
			seen[clause.Vital] = struct{}{}
			out = append(out, clause.Vital)
		}
	}
	return out
}
