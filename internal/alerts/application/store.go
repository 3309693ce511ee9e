package application

import (
	"sort"
	"sync"
	"time"

	alerts "carewatch-cloud/internal/alerts/domain"
)

// AlertStore is the in-memory repository of alert records. It owns the
// dedup invariant: at most one active-or-acknowledged alert per
// (userID, ruleID). Admission and lifecycle transitions for one dedup
// key are serialized by a per-key mutex; the store-wide RWMutex only
// guards the index maps and is never held across slow work.
type AlertStore struct {
	mu    sync.RWMutex
	byID  map[string]*alerts.Alert
	byKey map[string]string

	keys keyMutex
}

// NewAlertStore constructs an empty store.
func NewAlertStore() *AlertStore {
	return &AlertStore{
		byID:  make(map[string]*alerts.Alert),
		byKey: make(map[string]string),
		keys:  keyMutex{locks: make(map[string]*keyLock)},
	}
}

// Admit applies the dedup decision for a candidate alert:
//   - no live entry for the key: insert as active, return created
//   - live entry already acknowledged: no re-trigger, return suppressed
//   - live entry still active: merge payload without touching
//     escalation progress, return merged
func (s *AlertStore) Admit(candidate alerts.Alert) (alerts.Alert, alerts.AdmitOutcome) {
	key := candidate.DedupKey()
	release := s.keys.lock(key)
	defer release()

	s.mu.RLock()
	existingID, ok := s.byKey[key]
	var existing *alerts.Alert
	if ok {
		existing = s.byID[existingID]
	}
	s.mu.RUnlock()

	if existing != nil {
		if existing.Status == alerts.StatusAcknowledged {
			return existing.Clone(), alerts.AdmitSuppressed
		}
		s.mu.Lock()
		for k, v := range candidate.Data {
			if existing.Data == nil {
				existing.Data = make(map[string]float64)
			}
			existing.Data[k] = v
		}
		existing.Message = candidate.Message
		existing.UpdatedAt = candidate.CreatedAt
		merged := existing.Clone()
		s.mu.Unlock()
		return merged, alerts.AdmitMerged
	}

	inserted := candidate.Clone()
	inserted.Status = alerts.StatusActive
	inserted.EscalationLevel = -1
	s.mu.Lock()
	s.byID[inserted.ID] = &inserted
	s.byKey[key] = inserted.ID
	s.mu.Unlock()
	return inserted.Clone(), alerts.AdmitCreated
}

// Get returns a copy of the alert by id.
func (s *AlertStore) Get(id string) (alerts.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.byID[id]
	if !ok {
		return alerts.Alert{}, false
	}
	return alert.Clone(), true
}

// Acknowledge transitions an alert to acknowledged. The requesting user
// must own the alert unless override is set. Acknowledging an already
// acknowledged or resolved alert changes nothing and is not an error.
func (s *AlertStore) Acknowledge(id, userID string, override bool, at time.Time) (alerts.Alert, bool, error) {
	alert, err := s.locate(id)
	if err != nil {
		return alerts.Alert{}, false, err
	}

	release := s.keys.lock(alert.DedupKey())
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[id]
	if !ok {
		return alerts.Alert{}, false, alerts.ErrNotFound
	}
	if current.UserID != userID && !override {
		return alerts.Alert{}, false, alerts.ErrUnauthorized
	}
	if current.Status != alerts.StatusActive {
		return current.Clone(), false, nil
	}
	current.Status = alerts.StatusAcknowledged
	current.Acknowledged = true
	current.AckedAt = at
	current.UpdatedAt = at
	return current.Clone(), true, nil
}

// Resolve finalizes an alert and frees its dedup key. Resolving an
// already resolved alert returns the existing record without error.
func (s *AlertStore) Resolve(id, userID, note string, override bool, at time.Time) (alerts.Alert, bool, error) {
	alert, err := s.locate(id)
	if err != nil {
		return alerts.Alert{}, false, err
	}

	release := s.keys.lock(alert.DedupKey())
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[id]
	if !ok {
		return alerts.Alert{}, false, alerts.ErrNotFound
	}
	if current.Status == alerts.StatusResolved {
		return current.Clone(), false, nil
	}
	if current.UserID != userID && !override {
		return alerts.Alert{}, false, alerts.ErrUnauthorized
	}
	current.Status = alerts.StatusResolved
	current.Resolution = &alerts.Resolution{By: userID, Note: note, At: at}
	current.UpdatedAt = at
	if s.byKey[current.DedupKey()] == id {
		delete(s.byKey, current.DedupKey())
	}
	return current.Clone(), true, nil
}

// AdvanceEscalation records a fired step. It succeeds only while the
// alert is still active; the level never decreases.
func (s *AlertStore) AdvanceEscalation(id string, level int) (alerts.Alert, bool) {
	s.mu.RLock()
	alert, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return alerts.Alert{}, false
	}

	release := s.keys.lock(alert.DedupKey())
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[id]
	if !ok || current.Status != alerts.StatusActive {
		return alerts.Alert{}, false
	}
	if level > current.EscalationLevel {
		current.EscalationLevel = level
	}
	current.UpdatedAt = time.Now().UTC()
	return current.Clone(), true
}

// List returns alerts with the given status, newest first, optionally
// filtered by user.
func (s *AlertStore) List(status, userID string) []alerts.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alerts.Alert
	for _, alert := range s.byID {
		if status != "" && alert.Status != status {
			continue
		}
		if userID != "" && alert.UserID != userID {
			continue
		}
		out = append(out, alert.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Expire removes alerts created before now minus the retention window.
// It is a maintenance sweep: it removes records in any status and
// returns what it removed so the caller can cancel stray timers.
func (s *AlertStore) Expire(window time.Duration, now time.Time) []alerts.Alert {
	cutoff := now.Add(-window)

	s.mu.RLock()
	var stale []string
	for id, alert := range s.byID {
		if alert.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	var removed []alerts.Alert
	for _, id := range stale {
		alert, err := s.locate(id)
		if err != nil {
			continue
		}
		release := s.keys.lock(alert.DedupKey())
		s.mu.Lock()
		current, ok := s.byID[id]
		if ok && current.CreatedAt.Before(cutoff) {
			delete(s.byID, id)
			if s.byKey[current.DedupKey()] == id {
				delete(s.byKey, current.DedupKey())
			}
			removed = append(removed, current.Clone())
		}
		s.mu.Unlock()
		release()
	}
	return removed
}

func (s *AlertStore) locate(id string) (alerts.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.byID[id]
	if !ok {
		return alerts.Alert{}, alerts.ErrNotFound
	}
	return alert.Clone(), nil
}

// keyMutex provides a mutex per dedup key so concurrent admissions for
// different users never contend while two snapshots for the same
// (user, rule) are serialized.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
