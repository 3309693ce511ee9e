package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	alerts "carewatch-cloud/internal/alerts/domain"
)

// Dispatcher routes fired escalation steps to the channel registered
// for the step's delivery method. It implements the engine's
// StepExecutor contract.
type Dispatcher struct {
	channels map[string]Channel
	template *Template
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(template *Template) (*Dispatcher, error) {
	if template == nil {
		fallback, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = fallback
	}
	return &Dispatcher{
		channels: make(map[string]Channel),
		template: template,
	}, nil
}

// Register binds a delivery method to a channel. Later registrations
// replace earlier ones.
func (d *Dispatcher) Register(method string, channel Channel) error {
	if d == nil {
		return errors.New("dispatcher: nil")
	}
	if method == "" {
		return errors.New("dispatcher: empty method")
	}
	if channel == nil {
		return errors.New("dispatcher: nil channel")
	}
	d.channels[method] = channel
	return nil
}

// Methods lists registered delivery methods.
func (d *Dispatcher) Methods() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.channels))
	for method := range d.channels {
		out = append(out, method)
	}
	sort.Strings(out)
	return out
}

// ExecuteStep renders and delivers one escalation step. A method with
// no registered channel yields ErrUnknownMethod; the engine treats the
// step as a no-op.
func (d *Dispatcher) ExecuteStep(ctx context.Context, alert alerts.Alert, step alerts.EscalationStep) error {
	if d == nil {
		return errors.New("dispatcher: nil")
	}
	channel, ok := d.channels[step.Method]
	if !ok {
		return fmt.Errorf("%w: %s", alerts.ErrUnknownMethod, step.Method)
	}

	tpl := d.template
	if step.MessageTemplate != "" {
		var err error
		tpl, err = NewTemplate(step.MessageTemplate)
		if err != nil {
			return fmt.Errorf("dispatcher: step template: %w", err)
		}
	}

	content, err := tpl.Render(buildTemplateData("escalation", alert, step))
	if err != nil {
		return err
	}
	return channel.Send(ctx, content)
}

func buildTemplateData(event string, alert alerts.Alert, step alerts.EscalationStep) TemplateData {
	return TemplateData{
		UserID:     alert.UserID,
		RuleID:     alert.RuleID,
		Severity:   alert.Severity,
		Message:    alert.Message,
		Readings:   formatReadings(alert.Data),
		CreatedAt:  alert.CreatedAt.UTC().Format(time.RFC3339),
		Status:     alert.Status,
		Step:       strconv.Itoa(alert.EscalationLevel + 1),
		Method:     step.Method,
		Event:      event,
		EventLabel: eventLabel(event),
	}
}

func formatReadings(data map[string]float64) string {
	if len(data) == 0 {
		return "n/a"
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, strconv.FormatFloat(data[k], 'f', -1, 64)))
	}
	return strings.Join(parts, ", ")
}

func eventLabel(event string) string {
	switch event {
	case "escalation":
		return "Health Alert Escalation"
	case "alert":
		return "Health Alert"
	case "alertAcknowledged":
		return "Alert Acknowledged"
	case "alertResolved":
		return "Alert Resolved"
	default:
		return event
	}
}
