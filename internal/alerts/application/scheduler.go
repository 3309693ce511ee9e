package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	alerts "carewatch-cloud/internal/alerts/domain"
	"carewatch-cloud/internal/observability/metrics"
)

// StepExecutor delivers one escalation step. Its result is advisory:
// escalation continues on schedule regardless of the outcome.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, alert alerts.Alert, step alerts.EscalationStep) error
}

// Scheduler arms one independent timer per escalation step. Each timer
// is keyed by (alertID, stepIndex) and carries the generation captured
// when it was armed; a fire with a stale generation is a silent no-op,
// which closes the cancel/fire race without holding any lock across
// the delivery call.
type Scheduler struct {
	store          *AlertStore
	exec           StepExecutor
	logger         *log.Logger
	clock          Clock
	onFired        func(alerts.Alert)
	requestTimeout time.Duration

	mu      sync.Mutex
	nextGen uint64
	entries map[string]*scheduleEntry
}

type scheduleEntry struct {
	generation uint64
	timers     []*time.Timer
	remaining  int
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock overrides the default clock.
func WithSchedulerClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithStepFiredHook registers a callback invoked after a step fires.
func WithStepFiredHook(hook func(alerts.Alert)) SchedulerOption {
	return func(s *Scheduler) {
		s.onFired = hook
	}
}

// WithDeliveryTimeout bounds each delivery call.
func WithDeliveryTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.requestTimeout = timeout
		}
	}
}

// NewScheduler constructs an escalation scheduler.
func NewScheduler(store *AlertStore, exec StepExecutor, logger *log.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("scheduler: nil store")
	}
	if exec == nil {
		return nil, errors.New("scheduler: nil executor")
	}
	s := &Scheduler{
		store:          store,
		exec:           exec,
		logger:         logger,
		clock:          systemClock{},
		requestTimeout: 10 * time.Second,
		entries:        make(map[string]*scheduleEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start arms timers for every step in the path. Fire times are absolute
// (creation time plus the step's cumulative delay) so one slow delivery
// never shifts later steps. Start is idempotent per alert id; a second
// call while a schedule exists is a no-op, so merged alerts never reset
// escalation progress.
func (s *Scheduler) Start(alert alerts.Alert, path alerts.EscalationPath) {
	if s == nil || alert.ID == "" || len(path.Steps) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[alert.ID]; ok {
		return
	}
	s.nextGen++
	entry := &scheduleEntry{
		generation: s.nextGen,
		remaining:  len(path.Steps),
	}
	now := s.clock.Now()
	for i, step := range path.Steps {
		delay := alert.CreatedAt.Add(step.Delay).Sub(now)
		if delay < 0 {
			delay = 0
		}
		index := i
		fireStep := step
		gen := entry.generation
		entry.timers = append(entry.timers, time.AfterFunc(delay, func() {
			s.fire(alert.ID, index, gen, fireStep)
		}))
	}
	s.entries[alert.ID] = entry
}

// Cancel stops every armed timer for the alert. Timers already past the
// generation check are not rolled back; timers still in flight observe
// the stale generation and do nothing.
func (s *Scheduler) Cancel(alertID string) {
	if s == nil || alertID == "" {
		return
	}
	s.mu.Lock()
	entry := s.entries[alertID]
	delete(s.entries, alertID)
	s.mu.Unlock()
	if entry == nil {
		return
	}
	for _, timer := range entry.timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

// Pending reports how many steps are still scheduled for an alert.
func (s *Scheduler) Pending(alertID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entries[alertID]
	if entry == nil {
		return 0
	}
	return entry.remaining
}

// Close cancels all schedules.
func (s *Scheduler) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*scheduleEntry)
	s.mu.Unlock()
	for _, entry := range entries {
		for _, timer := range entry.timers {
			if timer != nil {
				timer.Stop()
			}
		}
	}
}

func (s *Scheduler) fire(alertID string, stepIndex int, generation uint64, step alerts.EscalationStep) {
	s.mu.Lock()
	entry, ok := s.entries[alertID]
	if !ok || entry.generation != generation {
		s.mu.Unlock()
		return
	}
	entry.remaining--
	if entry.remaining <= 0 {
		// All steps fired; the alert stays active awaiting a human.
		delete(s.entries, alertID)
	}
	s.mu.Unlock()

	// Re-read current state instead of closing over a stale record; an
	// alert acknowledged or resolved since arming must not page anyone.
	updated, ok := s.store.AdvanceEscalation(alertID, stepIndex)
	if !ok {
		return
	}

	ctx := context.Background()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	if err := s.exec.ExecuteStep(ctx, updated, step); err != nil {
		metrics.IncEscalationStep(step.Method, "error")
		if s.logger != nil {
			if errors.Is(err, alerts.ErrUnknownMethod) {
				s.logger.Printf("alerts: alert %s step %d: no channel for method %q", alertID, stepIndex, step.Method)
			} else {
				s.logger.Printf("alerts: alert %s step %d (%s) delivery failed: %v", alertID, stepIndex, step.Method, err)
			}
		}
	} else {
		metrics.IncEscalationStep(step.Method, "success")
	}

	if s.onFired != nil {
		s.onFired(updated)
	}
}
