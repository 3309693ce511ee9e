package notify

import (
	"context"
	"log"

	alertapp "carewatch-cloud/internal/alerts/application"
)

// LogNotifier writes alert lifecycle events to the service log.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier constructs a logging notifier.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements AlertNotifier.
func (n *LogNotifier) Notify(_ context.Context, event alertapp.AlertEvent) {
	if n == nil {
		return
	}
	alert := event.Alert
	n.logger.Printf("alert event=%s id=%s user=%s rule=%s severity=%s status=%s level=%d",
		event.Type, alert.ID, alert.UserID, alert.RuleID, alert.Severity, alert.Status, alert.EscalationLevel)
}
