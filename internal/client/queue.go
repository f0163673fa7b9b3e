package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
	"github.com/NahoooMac/wedhabesha-sub005/internal/observability"
)

// DefaultQueueCap is the default bound on pending compose actions. A full
// queue blocks further composition rather than silently dropping messages.
const DefaultQueueCap = 10

// QueuedAction is a compose action awaiting replay. Removed only after a
// confirmed server acknowledgment.
type QueuedAction struct {
	LocalID        string
	ThreadID       uint
	Content        string
	Kind           string
	AttachmentRefs []string
	EnqueuedAt     time.Time
	Attempts       int

	// failedThisPass blocks the rest of the action's thread for the
	// current flush pass. Reset when the next flush starts.
	failedThisPass bool
}

// ReplayFunc performs one delivery attempt for a queued action.
type ReplayFunc func(ctx context.Context, action *QueuedAction) error

// OfflineQueue buffers compose actions created while offline or after a
// failed send, and replays them once connectivity returns. Replay order is
// strict FIFO within a thread; different threads may interleave but never
// reorder internally.
type OfflineQueue struct {
	mu       sync.Mutex
	actions  []*QueuedAction
	cap      int
	flushing bool
	replay   ReplayFunc
	logger   *slog.Logger
}

// NewOfflineQueue creates a queue with the given capacity. cap <= 0 uses
// the default.
func NewOfflineQueue(capacity int, replay ReplayFunc, logger *slog.Logger) *OfflineQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OfflineQueue{
		cap:    capacity,
		replay: replay,
		logger: logger,
	}
}

// Enqueue appends an action. Returns a QUEUE_FULL error once the cap is
// reached so the caller can disable composition instead of losing writes.
func (q *OfflineQueue) Enqueue(action *QueuedAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.actions) >= q.cap {
		return models.NewQueueFullError(q.cap)
	}
	if action.EnqueuedAt.IsZero() {
		action.EnqueuedAt = time.Now()
	}
	q.actions = append(q.actions, action)
	observability.OfflineQueueDepth.Set(float64(len(q.actions)))
	return nil
}

// Size returns the number of pending actions.
func (q *OfflineQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Flush replays pending actions in enqueue order. Calling it while a flush
// is already running is a no-op. A failed replay increments the action's
// attempt counter, keeps it in place, and skips the rest of that thread for
// this pass so per-thread order is preserved.
func (q *OfflineQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.flushing {
		q.mu.Unlock()
		return nil
	}
	q.flushing = true
	for _, a := range q.actions {
		a.failedThisPass = false
	}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.flushing = false
		q.mu.Unlock()
	}()

	for {
		action := q.nextReplayable()
		if action == nil {
			return ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := q.replay(ctx, action)
		if err != nil {
			q.markFailed(action)
			observability.OfflineQueueReplays.WithLabelValues("failure").Inc()
			q.logger.Warn("offline replay failed",
				slog.String("local_id", action.LocalID),
				slog.Uint64("thread_id", uint64(action.ThreadID)),
				slog.Int("attempts", action.Attempts+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		q.remove(action)
		observability.OfflineQueueReplays.WithLabelValues("success").Inc()
	}
}

// nextReplayable returns the oldest action whose thread has not failed in
// this pass, or nil when nothing is left to try.
func (q *OfflineQueue) nextReplayable() *QueuedAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	blocked := q.blockedThreadsLocked()
	for _, a := range q.actions {
		if !blocked[a.ThreadID] {
			return a
		}
	}
	return nil
}

// blockedThreadsLocked marks threads whose head action already failed in
// this pass (attempts bumped after enqueue). Later actions in those threads
// must wait so causal order survives the retry.
func (q *OfflineQueue) blockedThreadsLocked() map[uint]bool {
	blocked := make(map[uint]bool)
	for _, a := range q.actions {
		if a.failedThisPass {
			blocked[a.ThreadID] = true
		}
	}
	return blocked
}

func (q *OfflineQueue) markFailed(action *QueuedAction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	action.Attempts++
	action.failedThisPass = true
}

func (q *OfflineQueue) remove(action *QueuedAction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, a := range q.actions {
		if a == action {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			break
		}
	}
	observability.OfflineQueueDepth.Set(float64(len(q.actions)))
}
