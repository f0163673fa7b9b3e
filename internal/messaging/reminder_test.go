package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
	texts []string
	fail  map[string]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{fail: make(map[string]bool)}
}

func (f *fakeNotifier) Notify(_ context.Context, handle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, handle)
	f.texts = append(f.texts, text)
	if f.fail[handle] {
		return errors.New("gateway rejected")
	}
	return nil
}

func (f *fakeNotifier) handles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeNotifier) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func waitForFire(t *testing.T, ch <-chan Reminder) Reminder {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("reminder did not fire in time")
		return Reminder{}
	}
}

func TestReminderFires(t *testing.T) {
	notifier := newFakeNotifier()
	s := NewReminderScheduler(notifier, time.Hour, "", nil)
	defer s.Stop()

	fired := make(chan Reminder, 1)
	s.OnFire(func(r Reminder) { fired <- r })

	s.Arm(1, 10, "+251911000001", "Can you confirm the date?", 10*time.Millisecond)

	r := waitForFire(t, fired)
	assert.Equal(t, uint(1), r.MessageID)
	assert.Equal(t, uint(10), r.ThreadID)
	assert.Equal(t, ReminderFired, r.State)
	assert.Equal(t, []string{"+251911000001"}, notifier.handles())
	assert.Equal(t, 0, s.Pending())

	// The SMS must identify the conversation, not just quote the message.
	assert.Contains(t, notifier.lastText(), "conversation #10")
	assert.Contains(t, notifier.lastText(), "Can you confirm the date?")
}

func TestReminderCancelledBeforeFire(t *testing.T) {
	notifier := newFakeNotifier()
	s := NewReminderScheduler(notifier, time.Hour, "", nil)
	defer s.Stop()

	fired := make(chan Reminder, 1)
	s.OnFire(func(r Reminder) { fired <- r })

	s.Arm(1, 10, "+251911000001", "ping", 50*time.Millisecond)
	s.Cancel(1)

	select {
	case <-fired:
		t.Fatal("cancelled reminder fired")
	case <-time.After(150 * time.Millisecond):
	}
	assert.Empty(t, notifier.handles())
	assert.Equal(t, 0, s.Pending())
}

func TestReminderCancelMissingIsNoop(t *testing.T) {
	s := NewReminderScheduler(newFakeNotifier(), time.Hour, "", nil)
	defer s.Stop()

	s.Cancel(42)
	s.Cancel(42)
	assert.Equal(t, 0, s.Pending())
}

func TestReminderRearmReplacesTimer(t *testing.T) {
	notifier := newFakeNotifier()
	s := NewReminderScheduler(notifier, time.Hour, "", nil)
	defer s.Stop()

	fired := make(chan Reminder, 2)
	s.OnFire(func(r Reminder) { fired <- r })

	s.Arm(1, 10, "+251911000001", "first", 20*time.Millisecond)
	s.Arm(1, 10, "+251911000001", "second", 20*time.Millisecond)
	assert.Equal(t, 1, s.Pending())

	r := waitForFire(t, fired)
	assert.Equal(t, "second", r.Preview)

	// Exactly one fire, no stacked duplicate
	select {
	case <-fired:
		t.Fatal("duplicate reminder fired")
	case <-time.After(100 * time.Millisecond):
	}
	require.Len(t, notifier.handles(), 1)
}

func TestReminderFallbackOnNotifierFailure(t *testing.T) {
	notifier := newFakeNotifier()
	notifier.fail["+251911000001"] = true

	s := NewReminderScheduler(notifier, time.Hour, "+251911999999", nil)
	defer s.Stop()

	fired := make(chan Reminder, 1)
	s.OnFire(func(r Reminder) { fired <- r })

	s.Arm(1, 10, "+251911000001", "hello", 10*time.Millisecond)
	waitForFire(t, fired)

	// Primary attempt then one fallback, never more
	assert.Equal(t, []string{"+251911000001", "+251911999999"}, notifier.handles())
}

func TestReminderCancelThread(t *testing.T) {
	s := NewReminderScheduler(newFakeNotifier(), time.Hour, "", nil)
	defer s.Stop()

	s.Arm(1, 10, "a", "one", time.Hour)
	s.Arm(2, 10, "a", "two", time.Hour)
	s.Arm(3, 11, "b", "other thread", time.Hour)
	require.Equal(t, 3, s.Pending())

	s.CancelThread(10)
	assert.Equal(t, 1, s.Pending())
}
