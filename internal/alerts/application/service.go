package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"carewatch-cloud/internal/alerts/catalog"
	alerts "carewatch-cloud/internal/alerts/domain"
	"carewatch-cloud/internal/auth"
	"carewatch-cloud/internal/observability/metrics"
)

// Event types published by the engine.
const (
	EventAlert             = "alert"
	EventAlertUpdated      = "alertUpdated"
	EventAlertAcknowledged = "alertAcknowledged"
	EventAlertResolved     = "alertResolved"
)

// AlertNotifier publishes alert lifecycle events. Implementations must
// not block; the engine never waits on subscriber processing.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent represents a lifecycle update.
type AlertEvent struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// Archiver persists resolved alerts outside the live store.
type Archiver interface {
	ArchiveResolved(ctx context.Context, alert alerts.Alert) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service is the engine facade: it runs Evaluator -> Store -> Scheduler
// for incoming snapshots and exposes the operator surface.
type Service struct {
	catalog   *catalog.Catalog
	evaluator *Evaluator
	store     *AlertStore
	scheduler *Scheduler
	notifier  AlertNotifier
	archiver  Archiver
	clock     Clock
	logger    *log.Logger
}

// ServiceOption customizes the engine.
type ServiceOption func(*Service)

// WithNotifier assigns an event notifier.
func WithNotifier(notifier AlertNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithArchiver assigns an archiver for resolved alerts.
func WithArchiver(archiver Archiver) ServiceOption {
	return func(s *Service) {
		s.archiver = archiver
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs the engine facade.
func NewService(cat *catalog.Catalog, store *AlertStore, scheduler *Scheduler, opts ...ServiceOption) (*Service, error) {
	if cat == nil {
		return nil, errors.New("alerts: nil catalog")
	}
	if store == nil {
		return nil, errors.New("alerts: nil store")
	}
	if scheduler == nil {
		return nil, errors.New("alerts: nil scheduler")
	}
	service := &Service{
		catalog:   cat,
		store:     store,
		scheduler: scheduler,
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	evaluator, err := NewEvaluator(cat, service.logger)
	if err != nil {
		return nil, err
	}
	service.evaluator = evaluator
	if scheduler.onFired == nil {
		scheduler.onFired = service.StepFired
	}
	return service, nil
}

// CheckVitalSigns evaluates a snapshot, admits candidates through the
// store and starts escalation for newly created alerts that require
// acknowledgment. Returned alerts are the created and merged ones;
// suppressed candidates are dropped silently.
func (s *Service) CheckVitalSigns(ctx context.Context, userID string, snapshot alerts.Snapshot) ([]alerts.Alert, error) {
	if s == nil {
		return nil, errors.New("alerts: nil service")
	}
	if userID == "" {
		return nil, errors.New("alerts: user id required")
	}

	started := time.Now()
	candidates := s.evaluator.Evaluate(snapshot, userID)
	metrics.ObserveEvaluation(time.Since(started).Seconds())

	var out []alerts.Alert
	for _, candidate := range candidates {
		now := s.clock.Now().UTC()
		admitted, outcome := s.store.Admit(alerts.Alert{
			ID:              "alert-" + uuid.NewString(),
			RuleID:          candidate.Rule.ID,
			UserID:          userID,
			Severity:        candidate.Rule.Severity,
			Message:         candidate.Message,
			Data:            candidate.Data,
			Status:          alerts.StatusActive,
			EscalationLevel: -1,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		metrics.IncAdmitOutcome(string(outcome))
		if outcome == alerts.AdmitSuppressed {
			continue
		}

		s.notify(ctx, EventAlert, admitted)
		if outcome == alerts.AdmitCreated && candidate.Rule.RequiresAck {
			if path, ok := s.catalog.PathForSeverity(admitted.Severity); ok {
				s.scheduler.Start(admitted, path)
			}
		}
		out = append(out, admitted)
	}
	return out, nil
}

// AcknowledgeAlert records a human acknowledgment and cancels all
// pending escalation before returning, so no step fires after the call
// completes.
func (s *Service) AcknowledgeAlert(ctx context.Context, alertID, userID string) (alerts.Alert, error) {
	if s == nil {
		return alerts.Alert{}, errors.New("alerts: nil service")
	}
	if alertID == "" || userID == "" {
		return alerts.Alert{}, errors.New("alerts: alert id and user id required")
	}

	alert, changed, err := s.store.Acknowledge(alertID, userID, s.overrideAllowed(ctx), s.clock.Now().UTC())
	if err != nil {
		return alerts.Alert{}, err
	}
	// The status transition above already makes any in-flight step a
	// no-op; cancelling releases the timers themselves.
	s.scheduler.Cancel(alertID)
	if changed {
		s.notify(ctx, EventAlertAcknowledged, alert)
	}
	return alert, nil
}

// ResolveAlert finalizes an alert. Resolving an already resolved alert
// returns the existing record without error.
func (s *Service) ResolveAlert(ctx context.Context, alertID, userID, note string) (alerts.Alert, error) {
	if s == nil {
		return alerts.Alert{}, errors.New("alerts: nil service")
	}
	if alertID == "" || userID == "" {
		return alerts.Alert{}, errors.New("alerts: alert id and user id required")
	}

	alert, changed, err := s.store.Resolve(alertID, userID, note, s.overrideAllowed(ctx), s.clock.Now().UTC())
	if err != nil {
		return alerts.Alert{}, err
	}
	s.scheduler.Cancel(alertID)
	if changed {
		s.notify(ctx, EventAlertResolved, alert)
		if s.archiver != nil {
			if err := s.archiver.ArchiveResolved(ctx, alert); err != nil && s.logger != nil {
				s.logger.Printf("alerts: archive %s: %v", alert.ID, err)
			}
		}
	}
	return alert, nil
}

// GetActiveAlerts lists active alerts, optionally for one user.
func (s *Service) GetActiveAlerts(userID string) []alerts.Alert {
	if s == nil {
		return nil
	}
	return s.store.List(alerts.StatusActive, userID)
}

// GetAcknowledgedAlerts lists acknowledged alerts, optionally for one
// user.
func (s *Service) GetAcknowledgedAlerts(userID string) []alerts.Alert {
	if s == nil {
		return nil
	}
	return s.store.List(alerts.StatusAcknowledged, userID)
}

// CleanupExpiredAlerts removes alerts older than the retention window
// and cancels any timers they still held. Returns the number removed.
func (s *Service) CleanupExpiredAlerts(window time.Duration) int {
	if s == nil || window <= 0 {
		return 0
	}
	removed := s.store.Expire(window, s.clock.Now().UTC())
	for _, alert := range removed {
		s.scheduler.Cancel(alert.ID)
	}
	metrics.SetActiveAlerts(len(s.store.List(alerts.StatusActive, "")))
	return len(removed)
}

// StepFired is wired as the scheduler's fired hook so escalation
// progress reaches event subscribers.
func (s *Service) StepFired(alert alerts.Alert) {
	if s == nil {
		return
	}
	s.notify(context.Background(), EventAlertUpdated, alert)
}

func (s *Service) overrideAllowed(ctx context.Context) bool {
	switch auth.RoleFromContext(ctx) {
	case auth.RoleClinician, auth.RoleAdmin:
		return true
	default:
		return false
	}
}

func (s *Service) notify(ctx context.Context, eventType string, alert alerts.Alert) {
	metrics.IncAlertEvent(eventType)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, AlertEvent{Type: eventType, Alert: alert})
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
