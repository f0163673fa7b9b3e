package client

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
	"github.com/NahoooMac/wedhabesha-sub005/internal/observability"

	"github.com/google/uuid"
)

// UpdateFunc receives every message state change the pipeline produces:
// the optimistic sending copy, the server-confirmed replacement (same
// LocalID) and failed markers. Consumers reconcile by correlation id.
type UpdateFunc func(*models.Message)

// Pipeline turns a compose action into a durable write with optimistic
// local echo. Transient network failures hand the action to the offline
// queue instead of retrying inline; the queue flushes automatically when
// the connection manager reports connected.
type Pipeline struct {
	sender   Sender
	conn     *ConnectionManager
	queue    *OfflineQueue
	onUpdate UpdateFunc
	logger   *slog.Logger

	unsubscribe func()
}

// NewPipeline wires the pipeline to its collaborators. queueCap <= 0 uses
// the default offline queue capacity.
func NewPipeline(sender Sender, conn *ConnectionManager, queueCap int, onUpdate UpdateFunc, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		sender:   sender,
		conn:     conn,
		onUpdate: onUpdate,
		logger:   logger,
	}
	p.queue = NewOfflineQueue(queueCap, p.replayAction, logger)

	if conn != nil {
		p.unsubscribe = conn.OnConnectionChange(func(s ConnectionState) {
			if s.Connected {
				go func() {
					if err := p.queue.Flush(context.Background()); err != nil {
						logger.Warn("offline queue flush aborted", slog.String("error", err.Error()))
					}
				}()
			}
		})
	}
	return p
}

// Close detaches the pipeline from connection events.
func (p *Pipeline) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

// Queue exposes the offline queue for size checks and manual flushes.
func (p *Pipeline) Queue() *OfflineQueue {
	return p.queue
}

// Send validates and delivers a compose action. The returned message is
// either the server-confirmed record (status sent) or the optimistic local
// copy (status sending while queued, failed after a rejected attempt that
// was queued for replay). Terminal errors (validation, auth, queue full)
// return an error and no message.
func (p *Pipeline) Send(ctx context.Context, threadID uint, content, kind string, attachmentRefs []string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" && len(attachmentRefs) == 0 {
		return nil, models.NewEmptyMessageError()
	}
	if kind == "" {
		kind = models.KindText
	}
	if !models.ValidKind(kind) {
		return nil, models.NewValidationError("unknown message kind: " + kind)
	}

	localID := uuid.NewString()
	optimistic := &models.Message{
		LocalID:   localID,
		ThreadID:  threadID,
		Content:   content,
		Kind:      kind,
		Status:    models.StatusSending,
		CreatedAt: time.Now(),
	}
	p.surface(optimistic)

	// Offline: queue without attempting the write.
	if p.conn != nil && !p.conn.IsConnected() {
		if err := p.enqueue(optimistic, attachmentRefs); err != nil {
			return nil, err
		}
		return optimistic, nil
	}

	confirmed, err := p.sender.SendMessage(ctx, threadID, localID, content, kind, attachmentRefs)
	if err == nil {
		confirmed.LocalID = localID
		if confirmed.Status == "" || confirmed.Status == models.StatusSending {
			confirmed.Status = models.StatusSent
		}
		p.surface(confirmed)
		observability.MessagesSent.WithLabelValues(kind).Inc()
		return confirmed, nil
	}

	observability.MessageSendFailures.WithLabelValues(models.ErrorCode(err)).Inc()

	if !models.IsRetryable(err) {
		return nil, err
	}

	// Transient failure: mark failed, hand to the queue, do not surface the
	// network error as fatal.
	optimistic.Status = models.StatusFailed
	p.surface(optimistic)
	if qErr := p.enqueue(optimistic, attachmentRefs); qErr != nil {
		return nil, qErr
	}
	p.logger.Info("send queued for offline replay",
		slog.String("local_id", localID),
		slog.Uint64("thread_id", uint64(threadID)),
	)
	return optimistic, nil
}

// Delete soft-deletes a message. The record keeps its place in the thread;
// only displayed content is cleared.
func (p *Pipeline) Delete(ctx context.Context, messageID uint) error {
	return p.sender.DeleteMessage(ctx, messageID)
}

// MarkThreadRead reports the viewer's read position to the server, which
// cancels any pending reminders for the thread.
func (p *Pipeline) MarkThreadRead(ctx context.Context, threadID uint) error {
	return p.sender.MarkThreadRead(ctx, threadID)
}

func (p *Pipeline) enqueue(msg *models.Message, attachmentRefs []string) error {
	return p.queue.Enqueue(&QueuedAction{
		LocalID:        msg.LocalID,
		ThreadID:       msg.ThreadID,
		Content:        msg.Content,
		Kind:           msg.Kind,
		AttachmentRefs: attachmentRefs,
	})
}

// replayAction is the queue's delivery attempt. A replay restarts the
// message at sending and reconciles on success like a live send.
func (p *Pipeline) replayAction(ctx context.Context, action *QueuedAction) error {
	p.surface(&models.Message{
		LocalID:  action.LocalID,
		ThreadID: action.ThreadID,
		Content:  action.Content,
		Kind:     action.Kind,
		Status:   models.StatusSending,
	})

	confirmed, err := p.sender.SendMessage(ctx, action.ThreadID, action.LocalID, action.Content, action.Kind, action.AttachmentRefs)
	if err != nil {
		return err
	}

	confirmed.LocalID = action.LocalID
	if confirmed.Status == "" || confirmed.Status == models.StatusSending {
		confirmed.Status = models.StatusSent
	}
	p.surface(confirmed)
	observability.MessagesSent.WithLabelValues(action.Kind).Inc()
	return nil
}

func (p *Pipeline) surface(msg *models.Message) {
	if p.onUpdate != nil {
		p.onUpdate(msg)
	}
}
