package alerts

import "time"

const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// AdmitOutcome reports how the store handled a candidate alert.
type AdmitOutcome string

const (
	AdmitCreated    AdmitOutcome = "created"
	AdmitMerged     AdmitOutcome = "merged"
	AdmitSuppressed AdmitOutcome = "suppressed"
)

// Alert represents an alert instance raised from a rule evaluation.
type Alert struct {
	ID              string             `json:"id"`
	RuleID          string             `json:"rule_id"`
	UserID          string             `json:"user_id"`
	Severity        string             `json:"severity"`
	Message         string             `json:"message"`
	Data            map[string]float64 `json:"data,omitempty"`
	Status          string             `json:"status"`
	Acknowledged    bool               `json:"acknowledged"`
	AckedAt         time.Time          `json:"acked_at,omitempty"`
	EscalationLevel int                `json:"escalation_level"`
	Resolution      *Resolution        `json:"resolution,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Resolution records how an alert was closed out.
type Resolution struct {
	By   string    `json:"by"`
	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
}

// DedupKey identifies the single live alert allowed per (user, rule).
func (a Alert) DedupKey() string {
	return BuildDedupKey(a.UserID, a.RuleID)
}

// BuildDedupKey composes the store dedup key.
func BuildDedupKey(userID, ruleID string) string {
	return userID + "|" + ruleID
}

// Open reports whether the alert still occupies its dedup key.
func (a Alert) Open() bool {
	return a.Status == StatusActive || a.Status == StatusAcknowledged
}

// Clone returns a deep copy so callers cannot mutate store state.
func (a Alert) Clone() Alert {
	out := a
	if a.Data != nil {
		out.Data = make(map[string]float64, len(a.Data))
		for k, v := range a.Data {
			out.Data[k] = v
		}
	}
	if a.Resolution != nil {
		res := *a.Resolution
		out.Resolution = &res
	}
	return out
}
