package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/observability"
)

// Reminder timer states.
const (
	ReminderArmed     = "armed"
	ReminderFired     = "fired"
	ReminderCancelled = "cancelled"
)

// Notifier delivers an out-of-band escalation, typically an SMS. Any
// non-nil error counts as a failed delivery.
type Notifier interface {
	Notify(ctx context.Context, handle, text string) error
}

// Reminder is one pending unread-message escalation.
type Reminder struct {
	MessageID       uint
	ThreadID        uint
	RecipientHandle string
	Preview         string
	ArmedAt         time.Time
	FireAt          time.Time
	State           string

	timer *time.Timer
}

// ReminderScheduler escalates messages that stay unread past a deadline.
// Timers are keyed by message ID; re-arming replaces the existing timer
// and cancelling a missing timer is a no-op. A fired escalation that the
// notifier rejects gets exactly one fallback attempt to a static handle,
// then is logged and dropped.
type ReminderScheduler struct {
	mu       sync.Mutex
	timers   map[uint]*Reminder
	delay    time.Duration
	notifier Notifier
	fallback string
	onFire   func(Reminder)
	logger   *slog.Logger
}

// NewReminderScheduler creates a scheduler with the default escalation
// delay. fallback may be empty, disabling the secondary channel.
func NewReminderScheduler(notifier Notifier, delay time.Duration, fallback string, logger *slog.Logger) *ReminderScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderScheduler{
		timers:   make(map[uint]*Reminder),
		delay:    delay,
		notifier: notifier,
		fallback: fallback,
		logger:   logger,
	}
}

// OnFire registers a callback invoked after a reminder fires, regardless
// of notifier outcome. Intended for tests and UI hooks.
func (s *ReminderScheduler) OnFire(cb func(Reminder)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFire = cb
}

// Arm schedules an escalation for the message. delay <= 0 uses the
// scheduler default. Arming an already-armed message ID replaces the
// pending timer, never stacks a second one.
func (s *ReminderScheduler) Arm(messageID, threadID uint, recipientHandle, preview string, delay time.Duration) {
	if delay <= 0 {
		delay = s.delay
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[messageID]; ok {
		existing.timer.Stop()
		delete(s.timers, messageID)
	}

	now := time.Now()
	r := &Reminder{
		MessageID:       messageID,
		ThreadID:        threadID,
		RecipientHandle: recipientHandle,
		Preview:         TruncatePreview(preview, PreviewMaxLen),
		ArmedAt:         now,
		FireAt:          now.Add(delay),
		State:           ReminderArmed,
	}
	r.timer = time.AfterFunc(delay, func() { s.fire(messageID) })
	s.timers[messageID] = r

	observability.RemindersArmed.Inc()
}

// Cancel stops the pending escalation for the message. Missing or
// already-terminal timers are ignored.
func (s *ReminderScheduler) Cancel(messageID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.timers[messageID]
	if !ok {
		return
	}
	r.timer.Stop()
	r.State = ReminderCancelled
	delete(s.timers, messageID)

	observability.ReminderOutcomes.WithLabelValues(ReminderCancelled).Inc()
}

// CancelThread cancels every pending escalation in the thread. Called when
// a read receipt covers the whole thread.
func (s *ReminderScheduler) CancelThread(threadID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.timers {
		if r.ThreadID == threadID {
			r.timer.Stop()
			r.State = ReminderCancelled
			delete(s.timers, id)
			observability.ReminderOutcomes.WithLabelValues(ReminderCancelled).Inc()
		}
	}
}

// Pending returns the number of armed timers.
func (s *ReminderScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all pending timers without recording outcomes. For shutdown.
func (s *ReminderScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.timers {
		r.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *ReminderScheduler) fire(messageID uint) {
	s.mu.Lock()
	r, ok := s.timers[messageID]
	if !ok {
		// Cancelled between timer fire and lock acquisition.
		s.mu.Unlock()
		return
	}
	r.State = ReminderFired
	delete(s.timers, messageID)
	cb := s.onFire
	s.mu.Unlock()

	observability.ReminderOutcomes.WithLabelValues(ReminderFired).Inc()

	s.escalate(r)
	if cb != nil {
		cb(*r)
	}
}

// escalate makes the single notifier attempt, then the single fallback
// attempt. Failures are logged and dropped, never retried.
func (s *ReminderScheduler) escalate(r *Reminder) {
	if s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	text := fmt.Sprintf("You have an unread message in conversation #%d: %q", r.ThreadID, r.Preview)

	err := s.notifier.Notify(ctx, r.RecipientHandle, text)
	if err == nil {
		return
	}

	s.logger.Warn("reminder escalation failed",
		slog.Uint64("message_id", uint64(r.MessageID)),
		slog.Uint64("thread_id", uint64(r.ThreadID)),
		slog.String("error", err.Error()),
	)

	if s.fallback == "" || s.fallback == r.RecipientHandle {
		observability.ReminderOutcomes.WithLabelValues("dropped").Inc()
		return
	}

	if err := s.notifier.Notify(ctx, s.fallback, text); err != nil {
		s.logger.Error("reminder fallback escalation failed",
			slog.Uint64("message_id", uint64(r.MessageID)),
			slog.String("error", err.Error()),
		)
		observability.ReminderOutcomes.WithLabelValues("dropped").Inc()
		return
	}
	observability.ReminderOutcomes.WithLabelValues("fallback").Inc()
}
