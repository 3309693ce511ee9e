package alerts

import (
	"errors"
	"time"
)

// Delivery method tags understood by the notification dispatcher.
const (
	MethodPush             = "push"
	MethodSMS              = "sms"
	MethodVoiceCall        = "voice_call"
	MethodEmergencyContact = "emergency_contact"
)

// EscalationStep is one timed notification within a path. Delay is
// cumulative from alert creation, not relative to the previous step.
type EscalationStep struct {
	Method          string        `yaml:"method"`
	Delay           time.Duration `yaml:"delay"`
	MessageTemplate string        `yaml:"message_template,omitempty"`
}

// EscalationPath is the ordered step sequence for one severity.
type EscalationPath struct {
	Severity string           `yaml:"severity"`
	Steps    []EscalationStep `yaml:"steps"`
}

// Validate checks path invariants: steps are ordered by non-decreasing
// delay and every method tag is non-empty.
func (p EscalationPath) Validate() error {
	if p.Severity == "" {
		return errors.New("escalation path: empty severity")
	}
	var prev time.Duration
	for _, step := range p.Steps {
		if step.Method == "" {
			return errors.New("escalation path: step missing method")
		}
		if step.Delay < 0 {
			return errors.New("escalation path: negative delay")
		}
		if step.Delay < prev {
			return errors.New("escalation path: steps out of order")
		}
		prev = step.Delay
	}
	return nil
}
