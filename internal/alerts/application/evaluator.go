package application

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"carewatch-cloud/internal/alerts/catalog"
	alerts "carewatch-cloud/internal/alerts/domain"
	"carewatch-cloud/internal/observability/metrics"
)

// Candidate is an alert produced by rule evaluation, before the store
// has made the dedup decision.
type Candidate struct {
	Rule    alerts.Rule
	Message string
	Data    map[string]float64
}

// Evaluator applies the rule catalog to vitals snapshots. Evaluation is
// a pure function of the snapshot and the static catalog.
type Evaluator struct {
	catalog *catalog.Catalog
	logger  *log.Logger
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(cat *catalog.Catalog, logger *log.Logger) (*Evaluator, error) {
	if cat == nil {
		return nil, errors.New("evaluator: nil catalog")
	}
	return &Evaluator{catalog: cat, logger: logger}, nil
}

// Evaluate returns zero or more candidates for the snapshot. Within a
// vital group the highest-severity rule is checked first and the first
// matching rule wins, so one reading never produces two alerts. A
// malformed reading skips that single vital, never the whole snapshot.
func (e *Evaluator) Evaluate(snapshot alerts.Snapshot, userID string) []Candidate {
	if e == nil || len(snapshot) == 0 {
		return nil
	}

	readings := make(map[string]float64, len(snapshot))
	for name, reading := range snapshot {
		value, err := reading.Float()
		if err != nil {
			metrics.IncSnapshotError("not_numeric")
			if e.logger != nil {
				e.logger.Printf("alerts: user %s vital %s skipped: %v", userID, name, err)
			}
			continue
		}
		readings[name] = value
	}
	if len(readings) == 0 {
		return nil
	}

	var out []Candidate
	for _, group := range e.catalog.Groups() {
		for _, rule := range e.catalog.RulesForGroup(group) {
			if !anyVitalPresent(rule, readings) {
				continue
			}
			if !rule.Predicate.Match(readings) {
				continue
			}
			out = append(out, buildCandidate(rule, readings))
			break
		}
	}
	return out
}

func anyVitalPresent(rule alerts.Rule, readings map[string]float64) bool {
	for _, vital := range rule.Vitals() {
		if _, ok := readings[vital]; ok {
			return true
		}
	}
	return false
}

func buildCandidate(rule alerts.Rule, readings map[string]float64) Candidate {
	data := make(map[string]float64)
	var parts []string
	for _, vital := range rule.Vitals() {
		value, ok := readings[vital]
		if !ok {
			continue
		}
		data[vital] = value
		parts = append(parts, formatReading(value))
	}
	message := rule.MessageFormat
	if strings.Contains(message, "%s") {
		message = fmt.Sprintf(message, strings.Join(parts, "/"))
	}
	return Candidate{Rule: rule, Message: message, Data: data}
}

func formatReading(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
