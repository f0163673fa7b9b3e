package repository

import (
	"context"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"

	"gorm.io/gorm"
)

// MessageRepository defines the interface for message data operations
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	GetByLocalID(ctx context.Context, threadID uint, localID string) (*models.Message, error)
	GetThreadMessages(ctx context.Context, threadID uint, limit, offset int) ([]*models.Message, error)
	GetThreadMessagesForFilter(ctx context.Context, threadID uint) ([]*models.Message, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
	MarkThreadDelivered(ctx context.Context, threadID, recipientID uint) ([]uint, error)
	MarkThreadRead(ctx context.Context, threadID, readerID uint) ([]uint, error)
	SoftDelete(ctx context.Context, id uint) error
}

// messageRepository implements MessageRepository
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Preload("Attachments").
		First(&msg, id).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) GetByLocalID(ctx context.Context, threadID uint, localID string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("thread_id = ? AND local_id = ?", threadID, localID).
		Preload("Attachments").
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) GetThreadMessages(ctx context.Context, threadID uint, limit, offset int) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Preload("Attachments").
		Preload("Sender").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Reverse messages to return them in chronological order (oldest -> newest)
	// We fetched DESC to get the *latest* messages, but clients expect ASC
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// GetThreadMessagesForFilter loads the full thread history with attachments
// for in-memory filtering. Deleted messages are excluded at the source.
func (r *messageRepository) GetThreadMessagesForFilter(ctx context.Context, threadID uint) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("thread_id = ? AND is_deleted = ?", threadID, false).
		Preload("Attachments").
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

func (r *messageRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	updates := map[string]interface{}{"status": status}
	if status == models.StatusRead {
		updates["read_at"] = time.Now()
	}
	return r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// MarkThreadDelivered advances every sent message addressed to recipientID
// to delivered and returns the affected IDs. Read messages are left alone.
func (r *messageRepository) MarkThreadDelivered(ctx context.Context, threadID, recipientID uint) ([]uint, error) {
	ids, err := r.statusCandidates(ctx, threadID, recipientID, []string{models.StatusSent})
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id IN ?", ids).
		Update("status", models.StatusDelivered).Error
	return ids, err
}

// MarkThreadRead advances every sent or delivered message addressed to
// readerID to read, stamping read_at. Read is terminal so already-read
// rows are never touched.
func (r *messageRepository) MarkThreadRead(ctx context.Context, threadID, readerID uint) ([]uint, error) {
	ids, err := r.statusCandidates(ctx, threadID, readerID, []string{models.StatusSent, models.StatusDelivered})
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":  models.StatusRead,
			"read_at": time.Now(),
		}).Error
	return ids, err
}

func (r *messageRepository) statusCandidates(ctx context.Context, threadID, recipientID uint, from []string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("thread_id = ? AND sender_id <> ? AND status IN ?", threadID, recipientID, from).
		Pluck("id", &ids).Error
	return ids, err
}

// SoftDelete flips the deletion flag and blanks the stored content. The row
// stays in place so thread history keeps its tombstone.
func (r *messageRepository) SoftDelete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"content":    "",
		}).Error
}
