package application

import (
	"errors"
	"sync"
	"testing"
	"time"

	alerts "carewatch-cloud/internal/alerts/domain"
)

func newTestAlert(id, userID, ruleID string, createdAt time.Time) alerts.Alert {
	return alerts.Alert{
		ID:        id,
		RuleID:    ruleID,
		UserID:    userID,
		Severity:  alerts.SeverityCritical,
		Message:   "Heart rate critically out of range: 160 bpm",
		Data:      map[string]float64{alerts.VitalHeartRate: 160},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestAdmitCreatesThenMerges(t *testing.T) {
	store := NewAlertStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, outcome := store.Admit(newTestAlert("alert-1", "user-1", "heart_rate_critical", base))
	if outcome != alerts.AdmitCreated {
		t.Fatalf("expected created, got %s", outcome)
	}
	if first.Status != alerts.StatusActive || first.EscalationLevel != -1 {
		t.Fatalf("unexpected initial state: %+v", first)
	}

	second := newTestAlert("alert-2", "user-1", "heart_rate_critical", base.Add(time.Minute))
	second.Message = "Heart rate critically out of range: 165 bpm"
	second.Data[alerts.VitalHeartRate] = 165

	merged, outcome := store.Admit(second)
	if outcome != alerts.AdmitMerged {
		t.Fatalf("expected merged, got %s", outcome)
	}
	if merged.ID != "alert-1" {
		t.Fatalf("merge should keep the original id, got %s", merged.ID)
	}
	if merged.Data[alerts.VitalHeartRate] != 165 {
		t.Fatalf("merge should refresh data, got %v", merged.Data)
	}
	if merged.Message != second.Message {
		t.Fatalf("merge should refresh message, got %q", merged.Message)
	}
	if !merged.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("merge should refresh updated_at, got %s", merged.UpdatedAt)
	}

	if got := store.List(alerts.StatusActive, "user-1"); len(got) != 1 {
		t.Fatalf("expected a single live alert, got %d", len(got))
	}
}

func TestAdmitSuppressedAfterAcknowledge(t *testing.T) {
	store := NewAlertStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	created, _ := store.Admit(newTestAlert("alert-1", "user-1", "heart_rate_critical", base))
	if _, changed, err := store.Acknowledge(created.ID, "user-1", false, base.Add(time.Minute)); err != nil || !changed {
		t.Fatalf("acknowledge: changed=%v err=%v", changed, err)
	}

	_, outcome := store.Admit(newTestAlert("alert-2", "user-1", "heart_rate_critical", base.Add(2*time.Minute)))
	if outcome != alerts.AdmitSuppressed {
		t.Fatalf("expected suppressed after ack, got %s", outcome)
	}
}

func TestAdmitDistinctUsersAndRules(t *testing.T) {
	store := NewAlertStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, outcome := store.Admit(newTestAlert("alert-1", "user-1", "heart_rate_critical", base)); outcome != alerts.AdmitCreated {
		t.Fatalf("expected created for user-1, got %s", outcome)
	}
	if _, outcome := store.Admit(newTestAlert("alert-2", "user-2", "heart_rate_critical", base)); outcome != alerts.AdmitCreated {
		t.Fatalf("expected created for user-2, got %s", outcome)
	}
	if _, outcome := store.Admit(newTestAlert("alert-3", "user-1", "oxygen_saturation_critical", base)); outcome != alerts.AdmitCreated {
		t.Fatalf("expected created for distinct rule, got %s", outcome)
	}
}

func TestAcknowledgeErrors(t *testing.T) {
	store := NewAlertStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	created, _ := store.Admit(newTestAlert("alert-1", "user-1", "heart_rate_critical", base))

	if _, _, err := store.Acknowledge("missing", "user-1", false, base); !errors.Is(err, alerts.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Acknowledge(created.ID, "intruder", false, base); !errors.Is(err, alerts.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// Clinician override bypasses ownership.
	acked, changed, err := store.Acknowledge(created.ID, "clinician-1", true, base.Add(time.Minute))
	if err != nil || !changed {
		t.Fatalf("override acknowledge: changed=%v err=%v", changed, err)
	}
	if acked.Status != alerts.StatusAcknowledged || !acked.Acknowledged {
		t.Fatalf("unexpected acked state: %+v", acked)
	}
	if !acked.AckedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("unexpected acked_at: %s", acked.AckedAt)
	}

	// Second acknowledge is a no-change, not an error.
	again, changed, err := store.Acknowledge(created.ID, "user-1", false, base.Add(2*time.Minute))
	if err != nil || changed {
		t.Fatalf("repeat acknowledge: changed=%v err=%v", changed, err)
	}
	if !again.AckedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("repeat acknowledge should not move acked_at, got %s", again.AckedAt)
	}
}

func TestResolveIsIdempotentAndFreesKey(t *testing.T) {
	store := NewAlertStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	created, _ := store.Admit(newTestAlert("alert-1", "user-1", "heart_rate_critical", base))

	resolved, changed, err := store.Resolve(created.ID, "user-1", "patient stabilized", false, base.Add(time.Minute))
	if err != nil || !changed {
		t.Fatalf("resolve: changed=%v err=%v", changed, err)
	}
	if resolved.Status != alerts.StatusResolved {
		t.Fatalf("expected resolved status, got %s", resolved.Status)
	}
	if resolved.Resolution == nil || resolved.Resolution.Note != "patient stabilized" {
		t.Fatalf("unexpected resolution: %+v", resolved.Resolution)
	}

	again, changed, err := store.Resolve(created.ID, "someone-else", "late note", false, base.Add(time.Hour))
	if err != nil || changed {
		t.Fatalf("repeat resolve: changed=%v err=%v", changed, err)
	}
	if again.Resolution.By != "user-1" || again.Resolution.Note != "patient stabilized" {
		t.Fatalf("repeat resolve must return original metadata, got %+v", again.Resolution)
	}
	if !again.Resolution.At.Equal(base.Add(time.Minute)) {
		t.Fatalf("repeat resolve must not move resolution time, got %s", again.Resolution.At)
	}

	// The dedup key is free again.
	if _, outcome := store.Admit(newTestAlert("alert-2", "user-1", "heart_rate_critical", base.Add(2*time.Hour))); outcome != alerts.AdmitCreated {
		t.Fatalf("expected new alert after resolve, got %s", outcome)
	}
}

func TestAdvanceEscalation(t *testing.T) {
	store := NewAlertStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	created, _ := store.Admit(newTestAlert("alert-1", "user-1", "heart_rate_critical", base))

	updated, ok := store.AdvanceEscalation(created.ID, 1)
	if !ok || updated.EscalationLevel != 1 {
		t.Fatalf("advance: ok=%v level=%d", ok, updated.EscalationLevel)
	}

	// Out-of-order fire for an earlier step must not regress the level.
	updated, ok = store.AdvanceEscalation(created.ID, 0)
	if !ok || updated.EscalationLevel != 1 {
		t.Fatalf("level must not decrease: ok=%v level=%d", ok, updated.EscalationLevel)
	}

	if _, _, err := store.Acknowledge(created.ID, "user-1", false, base.Add(time.Minute)); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if _, ok := store.AdvanceEscalation(created.ID, 2); ok {
		t.Fatal("advance must fail once the alert is no longer active")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	store := NewAlertStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	store.Admit(newTestAlert("alert-1", "user-1", "heart_rate_critical", base))
	store.Admit(newTestAlert("alert-2", "user-1", "oxygen_saturation_critical", base.Add(time.Minute)))
	store.Admit(newTestAlert("alert-3", "user-2", "heart_rate_critical", base.Add(2*time.Minute)))

	all := store.List(alerts.StatusActive, "")
	if len(all) != 3 {
		t.Fatalf("expected 3 active alerts, got %d", len(all))
	}
	if all[0].ID != "alert-3" || all[2].ID != "alert-1" {
		t.Fatalf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	mine := store.List(alerts.StatusActive, "user-1")
	if len(mine) != 2 {
		t.Fatalf("expected 2 alerts for user-1, got %d", len(mine))
	}
}

func TestExpireRemovesOldRecords(t *testing.T) {
	store := NewAlertStore()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	old, _ := store.Admit(newTestAlert("alert-old", "user-1", "heart_rate_critical", now.Add(-80*time.Hour)))
	store.Admit(newTestAlert("alert-new", "user-2", "heart_rate_critical", now.Add(-10*time.Hour)))

	removed := store.Expire(72*time.Hour, now)
	if len(removed) != 1 || removed[0].ID != old.ID {
		t.Fatalf("expected only the 80h-old alert removed, got %+v", removed)
	}
	if _, ok := store.Get(old.ID); ok {
		t.Fatal("expired alert should be gone")
	}
	if _, ok := store.Get("alert-new"); !ok {
		t.Fatal("recent alert should survive the sweep")
	}

	// The key is free for new alerts.
	if _, outcome := store.Admit(newTestAlert("alert-again", "user-1", "heart_rate_critical", now)); outcome != alerts.AdmitCreated {
		t.Fatalf("expected created after expiry, got %s", outcome)
	}
}

func TestAdmitConcurrentSameKey(t *testing.T) {
	store := NewAlertStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	const workers = 16
	var wg sync.WaitGroup
	outcomes := make([]alerts.AdmitOutcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			candidate := newTestAlert("alert-"+string(rune('a'+i)), "user-1", "heart_rate_critical", base)
			_, outcomes[i] = store.Admit(candidate)
		}(i)
	}
	wg.Wait()

	created := 0
	for _, outcome := range outcomes {
		if outcome == alerts.AdmitCreated {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one created under contention, got %d", created)
	}
	if got := store.List(alerts.StatusActive, "user-1"); len(got) != 1 {
		t.Fatalf("expected a single live alert, got %d", len(got))
	}
}
