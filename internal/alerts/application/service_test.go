package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"carewatch-cloud/internal/alerts/catalog"
	alerts "carewatch-cloud/internal/alerts/domain"
	"carewatch-cloud/internal/auth"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []AlertEvent
}

func (r *recordingNotifier) Notify(_ context.Context, event AlertEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingNotifier) Events() []AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlertEvent(nil), r.events...)
}

func (r *recordingNotifier) CountType(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, event := range r.events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

type recordingArchiver struct {
	mu       sync.Mutex
	archived []alerts.Alert
	err      error
}

func (r *recordingArchiver) ArchiveResolved(_ context.Context, alert alerts.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.archived = append(r.archived, alert)
	return nil
}

func (r *recordingArchiver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.archived)
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *AlertStore, *recordingExecutor, *recordingNotifier) {
	t.Helper()
	store := NewAlertStore()
	exec := &recordingExecutor{}
	scheduler, err := NewScheduler(store, exec, nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(scheduler.Close)

	notifier := &recordingNotifier{}
	opts = append([]ServiceOption{WithNotifier(notifier)}, opts...)
	service, err := NewService(catalog.Default(), store, scheduler, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, store, exec, notifier
}

func criticalSnapshot() alerts.Snapshot {
	return alerts.Snapshot{alerts.VitalHeartRate: {Value: 160.0}}
}

func TestCheckVitalSignsCreatesAlert(t *testing.T) {
	service, _, _, notifier := newTestService(t)

	raised, err := service.CheckVitalSigns(context.Background(), "user-1", criticalSnapshot())
	if err != nil {
		t.Fatalf("check vitals: %v", err)
	}
	if len(raised) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(raised))
	}
	alert := raised[0]
	if alert.RuleID != "heart_rate_critical" || alert.Status != alerts.StatusActive {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if alert.UserID != "user-1" {
		t.Fatalf("unexpected user: %s", alert.UserID)
	}

	if got := notifier.CountType(EventAlert); got != 1 {
		t.Fatalf("expected 1 %q event, got %d", EventAlert, got)
	}
	if got := service.GetActiveAlerts("user-1"); len(got) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(got))
	}
}

func TestCheckVitalSignsMergesRepeatedBreach(t *testing.T) {
	service, _, _, notifier := newTestService(t)
	ctx := context.Background()

	first, err := service.CheckVitalSigns(ctx, "user-1", criticalSnapshot())
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	second, err := service.CheckVitalSigns(ctx, "user-1", alerts.Snapshot{alerts.VitalHeartRate: {Value: 165.0}})
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Fatalf("repeat breach must merge into the live alert: %+v", second)
	}
	if second[0].Data[alerts.VitalHeartRate] != 165 {
		t.Fatalf("merge should carry the newest reading, got %v", second[0].Data)
	}

	// A merge re-announces the alert without creating a second record.
	if got := notifier.CountType(EventAlert); got != 2 {
		t.Fatalf("expected 2 %q events, got %d", EventAlert, got)
	}
	if got := service.GetActiveAlerts("user-1"); len(got) != 1 {
		t.Fatalf("expected a single live alert, got %d", len(got))
	}
}

func TestCheckVitalSignsSuppressedAfterAck(t *testing.T) {
	service, _, _, notifier := newTestService(t)
	ctx := context.Background()

	raised, err := service.CheckVitalSigns(ctx, "user-1", criticalSnapshot())
	if err != nil {
		t.Fatalf("check vitals: %v", err)
	}
	if _, err := service.AcknowledgeAlert(ctx, raised[0].ID, "user-1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	again, err := service.CheckVitalSigns(ctx, "user-1", criticalSnapshot())
	if err != nil {
		t.Fatalf("repeat check: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("acknowledged alert must suppress re-triggering, got %+v", again)
	}
	if got := notifier.CountType(EventAlert); got != 1 {
		t.Fatalf("suppressed candidates must not emit events, got %d", got)
	}
}

func TestAcknowledgeCancelsEscalation(t *testing.T) {
	service, _, exec, notifier := newTestService(t)
	ctx := context.Background()

	raised, err := service.CheckVitalSigns(ctx, "user-1", criticalSnapshot())
	if err != nil {
		t.Fatalf("check vitals: %v", err)
	}

	// The critical path's first step has zero delay; wait for it, then
	// acknowledge before the 30s SMS step could ever fire.
	waitFor(t, time.Second, func() bool { return exec.Count() >= 1 }, "expected immediate push step")

	acked, err := service.AcknowledgeAlert(ctx, raised[0].ID, "user-1")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != alerts.StatusAcknowledged {
		t.Fatalf("unexpected status: %s", acked.Status)
	}
	if got := notifier.CountType(EventAlertAcknowledged); got != 1 {
		t.Fatalf("expected 1 %q event, got %d", EventAlertAcknowledged, got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := exec.Count(); got != 1 {
		t.Fatalf("expected no further steps after acknowledge, got %d", got)
	}

	if got := service.GetAcknowledgedAlerts("user-1"); len(got) != 1 {
		t.Fatalf("expected 1 acknowledged alert, got %d", len(got))
	}
	if got := service.GetActiveAlerts("user-1"); len(got) != 0 {
		t.Fatalf("expected no active alerts, got %d", len(got))
	}
}

func TestAcknowledgeOwnershipAndOverride(t *testing.T) {
	service, _, _, _ := newTestService(t)
	ctx := context.Background()

	raised, err := service.CheckVitalSigns(ctx, "user-1", criticalSnapshot())
	if err != nil {
		t.Fatalf("check vitals: %v", err)
	}

	if _, err := service.AcknowledgeAlert(ctx, raised[0].ID, "user-2"); !errors.Is(err, alerts.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for foreign user, got %v", err)
	}

	clinician := auth.WithIdentity(ctx, "dr-1", auth.RoleClinician)
	if _, err := service.AcknowledgeAlert(clinician, raised[0].ID, "dr-1"); err != nil {
		t.Fatalf("clinician override should succeed, got %v", err)
	}
}

func TestResolveArchivesAndFreesKey(t *testing.T) {
	archiver := &recordingArchiver{}
	service, _, _, notifier := newTestService(t, WithArchiver(archiver))
	ctx := context.Background()

	raised, err := service.CheckVitalSigns(ctx, "user-1", criticalSnapshot())
	if err != nil {
		t.Fatalf("check vitals: %v", err)
	}

	resolved, err := service.ResolveAlert(ctx, raised[0].ID, "user-1", "patient stabilized")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != alerts.StatusResolved || resolved.Resolution == nil {
		t.Fatalf("unexpected resolved alert: %+v", resolved)
	}
	if got := notifier.CountType(EventAlertResolved); got != 1 {
		t.Fatalf("expected 1 %q event, got %d", EventAlertResolved, got)
	}
	if archiver.Count() != 1 {
		t.Fatalf("expected 1 archived alert, got %d", archiver.Count())
	}

	// Resolving again returns the record unchanged and archives nothing.
	again, err := service.ResolveAlert(ctx, raised[0].ID, "user-1", "late note")
	if err != nil {
		t.Fatalf("repeat resolve: %v", err)
	}
	if again.Resolution.Note != "patient stabilized" {
		t.Fatalf("repeat resolve must keep original note, got %q", again.Resolution.Note)
	}
	if archiver.Count() != 1 {
		t.Fatalf("repeat resolve must not re-archive, got %d", archiver.Count())
	}

	// The same rule can fire a fresh alert now.
	fresh, err := service.CheckVitalSigns(ctx, "user-1", criticalSnapshot())
	if err != nil {
		t.Fatalf("fresh check: %v", err)
	}
	if len(fresh) != 1 || fresh[0].ID == raised[0].ID {
		t.Fatalf("expected a new alert after resolve, got %+v", fresh)
	}
}

func TestResolveSurvivesArchiverFailure(t *testing.T) {
	archiver := &recordingArchiver{err: errors.New("db down")}
	service, _, _, _ := newTestService(t, WithArchiver(archiver))
	ctx := context.Background()

	raised, err := service.CheckVitalSigns(ctx, "user-1", criticalSnapshot())
	if err != nil {
		t.Fatalf("check vitals: %v", err)
	}
	resolved, err := service.ResolveAlert(ctx, raised[0].ID, "user-1", "")
	if err != nil {
		t.Fatalf("resolve must succeed despite archive failure, got %v", err)
	}
	if resolved.Status != alerts.StatusResolved {
		t.Fatalf("unexpected status: %s", resolved.Status)
	}
}

func TestStepFiredEmitsUpdateEvents(t *testing.T) {
	service, _, exec, notifier := newTestService(t)
	ctx := context.Background()

	if _, err := service.CheckVitalSigns(ctx, "user-1", criticalSnapshot()); err != nil {
		t.Fatalf("check vitals: %v", err)
	}

	waitFor(t, time.Second, func() bool { return exec.Count() >= 1 }, "expected escalation step")
	waitFor(t, time.Second, func() bool { return notifier.CountType(EventAlertUpdated) >= 1 }, "expected alertUpdated event")
}

func TestWarningAlertDoesNotEscalate(t *testing.T) {
	service, _, exec, _ := newTestService(t)
	ctx := context.Background()

	raised, err := service.CheckVitalSigns(ctx, "user-1", alerts.Snapshot{alerts.VitalTemperature: {Value: 38.5}})
	if err != nil {
		t.Fatalf("check vitals: %v", err)
	}
	if len(raised) != 1 || raised[0].Severity != alerts.SeverityWarning {
		t.Fatalf("expected a warning alert, got %+v", raised)
	}

	time.Sleep(50 * time.Millisecond)
	if got := exec.Count(); got != 0 {
		t.Fatalf("warning rules do not require ack and must not schedule, got %d steps", got)
	}
}

func TestCleanupExpiredAlerts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	service, _, _, notifier := newTestService(t, WithClock(clock))
	ctx := context.Background()

	// A warning alert schedules nothing, so the event stream stays quiet
	// once the admission event has been recorded.
	if _, err := service.CheckVitalSigns(ctx, "user-1", alerts.Snapshot{alerts.VitalTemperature: {Value: 38.5}}); err != nil {
		t.Fatalf("check vitals: %v", err)
	}
	eventsBefore := len(notifier.Events())

	clock.Add(80 * time.Hour)
	if removed := service.CleanupExpiredAlerts(72 * time.Hour); removed != 1 {
		t.Fatalf("expected 1 expired alert, got %d", removed)
	}
	if got := service.GetActiveAlerts(""); len(got) != 0 {
		t.Fatalf("expected empty store after cleanup, got %d", len(got))
	}
	// Expiry is maintenance; no lifecycle events are published for it.
	if got := len(notifier.Events()); got != eventsBefore {
		t.Fatalf("cleanup must not emit events, got %d new", got-eventsBefore)
	}

	if removed := service.CleanupExpiredAlerts(72 * time.Hour); removed != 0 {
		t.Fatalf("second sweep should remove nothing, got %d", removed)
	}
}

func TestCheckVitalSignsValidation(t *testing.T) {
	service, _, _, _ := newTestService(t)
	if _, err := service.CheckVitalSigns(context.Background(), "", criticalSnapshot()); err == nil {
		t.Fatal("expected error for missing user id")
	}
}
