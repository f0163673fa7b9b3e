// Package service provides the messaging business logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/cache"
	"github.com/NahoooMac/wedhabesha-sub005/internal/messaging"
	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
	"github.com/NahoooMac/wedhabesha-sub005/internal/observability"
	"github.com/NahoooMac/wedhabesha-sub005/internal/realtime"
	"github.com/NahoooMac/wedhabesha-sub005/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// Live is the slice of the realtime hub the service needs: fanout plus the
// viewing/online signals that drive delivery acks and reminder arming.
type Live interface {
	BroadcastToThread(threadID uint, event realtime.ThreadEvent)
	IsUserViewing(userID, threadID uint) bool
	IsUserOnline(userID uint) bool
}

// ViewingFunc decides whether a recipient counts as actively viewing a
// thread, which suppresses reminder arming. The default is the hub's
// per-thread membership; deployments can swap in a stricter rule.
type ViewingFunc func(userID, threadID uint) bool

// MessageService coordinates the persistent write, thread bookkeeping,
// live fanout and reminder scheduling for every messaging operation.
type MessageService struct {
	msgRepo    repository.MessageRepository
	threadRepo repository.ThreadRepository
	userRepo   repository.UserRepository
	live       Live
	notifier   *realtime.Notifier
	reminders  *messaging.ReminderScheduler
	viewing    ViewingFunc
	logger     *slog.Logger
}

// NewMessageService wires the service. notifier and reminders may be nil
// (single-instance mode and reminders disabled, respectively). viewing nil
// defaults to live.IsUserViewing.
func NewMessageService(
	msgRepo repository.MessageRepository,
	threadRepo repository.ThreadRepository,
	userRepo repository.UserRepository,
	live Live,
	notifier *realtime.Notifier,
	reminders *messaging.ReminderScheduler,
	viewing ViewingFunc,
	logger *slog.Logger,
) *MessageService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MessageService{
		msgRepo:    msgRepo,
		threadRepo: threadRepo,
		userRepo:   userRepo,
		live:       live,
		notifier:   notifier,
		reminders:  reminders,
		viewing:    viewing,
		logger:     logger,
	}
	if s.viewing == nil && live != nil {
		s.viewing = live.IsUserViewing
	}
	return s
}

// AttachmentInput is the metadata the attachment collaborator resolved for
// a ref. The service never sees raw bytes.
type AttachmentInput struct {
	Ref          string `json:"ref"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	SizeBytes    int64  `json:"size_bytes"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	SenderID    uint
	ThreadID    uint
	LocalID     string
	Content     string
	Kind        string
	Attachments []AttachmentInput
}

const maxMessageContentLen = 10000

// SendMessage validates, persists and fans out one message. The returned
// record carries the caller's correlation id so optimistic copies reconcile.
func (s *MessageService) SendMessage(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	span, ctx := observability.NewSpan(ctx, "MessageService.SendMessage")
	defer span.End()
	span.AddAttributes(attribute.Int("thread.id", int(in.ThreadID)))

	if in.Kind == "" {
		in.Kind = models.KindText
	}
	span.AddAttributes(attribute.String("message.kind", in.Kind))
	if !models.ValidKind(in.Kind) {
		return nil, models.NewValidationError("unknown message kind: " + in.Kind)
	}
	if len(in.Content) > maxMessageContentLen {
		return nil, models.NewValidationError("Message content too long (max 10000 characters)")
	}
	if len(in.Attachments) > models.MaxAttachmentsPerMessage {
		return nil, models.NewValidationError(fmt.Sprintf("At most %d attachments per message", models.MaxAttachmentsPerMessage))
	}

	probe := &models.Message{Content: in.Content, Attachments: make([]models.Attachment, len(in.Attachments))}
	if !probe.HasContent() {
		return nil, models.NewEmptyMessageError()
	}

	thread, err := s.threadRepo.GetByID(ctx, in.ThreadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Thread", in.ThreadID)
		}
		return nil, err
	}
	if !thread.HasParticipant(in.SenderID) {
		return nil, models.NewForbiddenError("You are not a participant in this thread")
	}

	// Queue replays can resend a request whose first attempt persisted but
	// whose response was lost. The correlation id makes the retry idempotent.
	if in.LocalID != "" {
		if existing, err := s.msgRepo.GetByLocalID(ctx, in.ThreadID, in.LocalID); err == nil {
			return existing, nil
		}
	}

	role := models.RoleCouple
	if in.SenderID == thread.VendorID {
		role = models.RoleVendor
	}

	msg := &models.Message{
		LocalID:    in.LocalID,
		ThreadID:   in.ThreadID,
		SenderID:   in.SenderID,
		SenderRole: role,
		Content:    in.Content,
		Kind:       in.Kind,
		Status:     models.StatusSent,
	}
	for _, a := range in.Attachments {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Ref:          a.Ref,
			FileName:     a.FileName,
			MimeType:     a.MimeType,
			SizeBytes:    a.SizeBytes,
			URL:          a.URL,
			ThumbnailURL: a.ThumbnailURL,
		})
	}
	if err := s.msgRepo.Create(ctx, msg); err != nil {
		span.SetError(err)
		return nil, err
	}
	observability.MessagesSent.WithLabelValues(msg.Kind).Inc()

	recipientID := thread.CounterpartOf(in.SenderID)
	s.updateThreadOnSend(ctx, thread, msg, recipientID)

	// Online recipients get an immediate delivery ack.
	if s.live != nil && s.live.IsUserOnline(recipientID) {
		if err := s.msgRepo.UpdateStatus(ctx, msg.ID, models.StatusDelivered); err == nil {
			msg.Status = models.StatusDelivered
		}
	}

	s.fanout(ctx, in.ThreadID, realtime.ThreadEvent{
		Type:     realtime.EventMessageNew,
		ThreadID: in.ThreadID,
		UserID:   in.SenderID,
		Payload:  msg,
	})

	s.maybeArmReminder(ctx, msg, recipientID)
	return msg, nil
}

// updateThreadOnSend refreshes the thread's preview/activity, bumps the
// recipient's unread counter and invalidates both cached thread lists.
func (s *MessageService) updateThreadOnSend(ctx context.Context, thread *models.Thread, msg *models.Message, recipientID uint) {
	preview := msg.Content
	if preview == "" && len(msg.Attachments) > 0 {
		preview = msg.Attachments[0].FileName
	}
	preview = messaging.TruncatePreview(preview, messaging.PreviewMaxLen)

	if err := s.threadRepo.TouchLastMessage(ctx, thread.ID, preview, time.Now()); err != nil {
		s.logger.Warn("thread preview update failed", slog.Uint64("thread_id", uint64(thread.ID)), slog.String("error", err.Error()))
	}
	if err := s.threadRepo.IncrementUnread(ctx, thread.ID, recipientID); err != nil {
		s.logger.Warn("unread increment failed", slog.Uint64("thread_id", uint64(thread.ID)), slog.String("error", err.Error()))
	}

	cache.InvalidateThreadList(ctx, thread.CoupleID)
	cache.InvalidateThreadList(ctx, thread.VendorID)
}

// maybeArmReminder arms the unread escalation unless the recipient is
// actively viewing the thread.
func (s *MessageService) maybeArmReminder(ctx context.Context, msg *models.Message, recipientID uint) {
	if s.reminders == nil {
		return
	}
	if s.viewing != nil && s.viewing(recipientID, msg.ThreadID) {
		return
	}

	handle := ""
	if recipient, err := s.userRepo.GetByID(ctx, recipientID); err == nil {
		handle = recipient.Phone
	}
	preview := msg.Content
	if preview == "" && len(msg.Attachments) > 0 {
		preview = msg.Attachments[0].FileName
	}
	s.reminders.Arm(msg.ID, msg.ThreadID, handle, preview, 0)
}

// MarkThreadRead advances every message addressed to the reader to read,
// clears the unread counter, cancels pending reminders and publishes the
// receipt.
func (s *MessageService) MarkThreadRead(ctx context.Context, threadID, readerID uint) error {
	span, ctx := observability.NewSpan(ctx, "MessageService.MarkThreadRead")
	defer span.End()
	span.AddAttributes(attribute.Int("thread.id", int(threadID)))

	thread, err := s.threadRepo.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Thread", threadID)
		}
		return err
	}
	if !thread.HasParticipant(readerID) {
		return models.NewForbiddenError("You are not a participant in this thread")
	}

	ids, err := s.msgRepo.MarkThreadRead(ctx, threadID, readerID)
	if err != nil {
		span.SetError(err)
		return err
	}
	if err := s.threadRepo.ClearUnread(ctx, threadID, readerID); err != nil {
		span.SetError(err)
		return err
	}
	cache.InvalidateThreadList(ctx, readerID)

	if s.reminders != nil {
		for _, id := range ids {
			s.reminders.Cancel(id)
		}
	}

	if len(ids) > 0 {
		s.fanoutReceipt(ctx, realtime.EventMessageRead, threadID, readerID, ids)
	}
	return nil
}

// MarkThreadDelivered records a transport ack for an online recipient's
// pending messages.
func (s *MessageService) MarkThreadDelivered(ctx context.Context, threadID, recipientID uint) error {
	ids, err := s.msgRepo.MarkThreadDelivered(ctx, threadID, recipientID)
	if err != nil || len(ids) == 0 {
		return err
	}
	s.fanoutReceipt(ctx, realtime.EventMessageDelivered, threadID, recipientID, ids)
	return nil
}

// DeleteMessage soft-deletes the sender's own message. The record stays
// for ordering; only the displayed content goes away.
func (s *MessageService) DeleteMessage(ctx context.Context, messageID, userID uint) error {
	msg, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Message", messageID)
		}
		return err
	}
	if msg.SenderID != userID {
		return models.NewForbiddenError("Only the sender can delete a message")
	}
	if err := s.msgRepo.SoftDelete(ctx, messageID); err != nil {
		return err
	}
	if s.reminders != nil {
		s.reminders.Cancel(messageID)
	}

	s.fanout(ctx, msg.ThreadID, realtime.ThreadEvent{
		Type:     realtime.EventMessageDeleted,
		ThreadID: msg.ThreadID,
		UserID:   userID,
		Payload:  map[string]any{"message_id": messageID},
	})
	return nil
}

// GetMessages returns a page of thread history in chronological order.
func (s *MessageService) GetMessages(ctx context.Context, threadID, userID uint, limit, offset int) ([]*models.Message, error) {
	thread, err := s.threadRepo.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Thread", threadID)
		}
		return nil, err
	}
	if !thread.HasParticipant(userID) {
		return nil, models.NewForbiddenError("You are not a participant in this thread")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.msgRepo.GetThreadMessages(ctx, threadID, limit, offset)
}

// GetThreads returns the viewer's thread list, most recently active first,
// with per-viewer projections filled in. The list is served through the
// cache-aside helper.
func (s *MessageService) GetThreads(ctx context.Context, userID uint) ([]*models.Thread, error) {
	var threads []*models.Thread
	err := cache.Aside(ctx, cache.ThreadListKey(userID), &threads, cache.ThreadListTTL, func() error {
		var fetchErr error
		threads, fetchErr = s.threadRepo.GetUserThreads(ctx, userID)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	for _, t := range threads {
		t.ProjectFor(userID)
	}
	return threads, nil
}

// SearchMessages filters a thread's history by text, date range and
// attachment presence.
func (s *MessageService) SearchMessages(ctx context.Context, threadID, userID uint, filter messaging.MessageFilter) ([]models.Message, error) {
	thread, err := s.threadRepo.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Thread", threadID)
		}
		return nil, err
	}
	if !thread.HasParticipant(userID) {
		return nil, models.NewForbiddenError("You are not a participant in this thread")
	}

	history, err := s.msgRepo.GetThreadMessagesForFilter(ctx, threadID)
	if err != nil {
		return nil, err
	}
	flat := make([]models.Message, len(history))
	for i, m := range history {
		flat[i] = *m
	}
	return messaging.FilterMessages(flat, filter), nil
}

// SearchThreads narrows the viewer's thread list by counterpart name and
// preview text.
func (s *MessageService) SearchThreads(ctx context.Context, userID uint, query string) ([]models.Thread, error) {
	threads, err := s.GetThreads(ctx, userID)
	if err != nil {
		return nil, err
	}
	flat := make([]models.Thread, len(threads))
	for i, t := range threads {
		flat[i] = *t
	}
	return messaging.FilterThreads(flat, query), nil
}

// ArchiveThread flips a thread's archived flag for either participant.
func (s *MessageService) ArchiveThread(ctx context.Context, threadID, userID uint, archived bool) error {
	thread, err := s.threadRepo.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFoundError("Thread", threadID)
		}
		return err
	}
	if !thread.HasParticipant(userID) {
		return models.NewForbiddenError("You are not a participant in this thread")
	}

	status := models.ThreadActive
	if archived {
		status = models.ThreadArchived
	}
	if err := s.threadRepo.SetStatus(ctx, threadID, status); err != nil {
		return err
	}
	cache.InvalidateThreadList(ctx, thread.CoupleID)
	cache.InvalidateThreadList(ctx, thread.VendorID)
	return nil
}

// OpenThread returns (creating if needed) the single thread between a
// couple and a vendor.
func (s *MessageService) OpenThread(ctx context.Context, coupleID, vendorID uint) (*models.Thread, error) {
	couple, err := s.userRepo.GetByID(ctx, coupleID)
	if err != nil {
		return nil, models.NewNotFoundError("User", coupleID)
	}
	vendor, err := s.userRepo.GetByID(ctx, vendorID)
	if err != nil {
		return nil, models.NewNotFoundError("User", vendorID)
	}
	if couple.Role != models.RoleCouple || vendor.Role != models.RoleVendor {
		return nil, models.NewValidationError("Threads connect a couple with a vendor")
	}

	thread, err := s.threadRepo.GetOrCreate(ctx, coupleID, vendorID)
	if err != nil {
		return nil, err
	}
	cache.InvalidateThreadList(ctx, coupleID)
	cache.InvalidateThreadList(ctx, vendorID)
	return thread, nil
}

// fanout publishes through Redis when available so other instances see the
// event; otherwise it broadcasts to local connections directly.
func (s *MessageService) fanout(ctx context.Context, threadID uint, event realtime.ThreadEvent) {
	if s.notifier != nil && s.notifier.Enabled() {
		if err := s.notifier.PublishMessage(ctx, threadID, event); err != nil {
			s.logger.Warn("redis fanout failed, falling back to local broadcast",
				slog.Uint64("thread_id", uint64(threadID)),
				slog.String("error", err.Error()),
			)
		} else {
			return
		}
	}
	if s.live != nil {
		s.live.BroadcastToThread(threadID, event)
	}
}

// fanoutReceipt publishes read/delivered receipts on the dedicated receipts
// channel, with the same local-broadcast fallback as fanout.
func (s *MessageService) fanoutReceipt(ctx context.Context, eventType string, threadID, userID uint, messageIDs []uint) {
	if s.notifier != nil && s.notifier.Enabled() {
		var err error
		if eventType == realtime.EventMessageRead {
			err = s.notifier.PublishRead(ctx, threadID, userID, messageIDs)
		} else {
			err = s.notifier.PublishDelivered(ctx, threadID, userID, messageIDs)
		}
		if err == nil {
			return
		}
		s.logger.Warn("redis receipt fanout failed, falling back to local broadcast",
			slog.Uint64("thread_id", uint64(threadID)),
			slog.String("error", err.Error()),
		)
	}
	if s.live != nil {
		s.live.BroadcastToThread(threadID, realtime.ThreadEvent{
			Type:     eventType,
			ThreadID: threadID,
			UserID:   userID,
			Payload:  map[string]any{"message_ids": messageIDs},
		})
	}
}
