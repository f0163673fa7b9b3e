package repository

import (
	"context"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ThreadRepository defines the interface for thread data operations
type ThreadRepository interface {
	Create(ctx context.Context, thread *models.Thread) error
	GetByID(ctx context.Context, id uint) (*models.Thread, error)
	GetOrCreate(ctx context.Context, coupleID, vendorID uint) (*models.Thread, error)
	GetUserThreads(ctx context.Context, userID uint) ([]*models.Thread, error)
	TouchLastMessage(ctx context.Context, threadID uint, preview string, at time.Time) error
	IncrementUnread(ctx context.Context, threadID, recipientID uint) error
	ClearUnread(ctx context.Context, threadID, userID uint) error
	SetStatus(ctx context.Context, threadID uint, status string) error
}

// threadRepository implements ThreadRepository
type threadRepository struct {
	db *gorm.DB
}

// NewThreadRepository creates a new thread repository
func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &threadRepository{db: db}
}

func (r *threadRepository) Create(ctx context.Context, thread *models.Thread) error {
	return r.db.WithContext(ctx).Create(thread).Error
}

func (r *threadRepository) GetByID(ctx context.Context, id uint) (*models.Thread, error) {
	var thread models.Thread
	err := r.db.WithContext(ctx).
		Preload("Couple").
		Preload("Vendor").
		First(&thread, id).Error
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// GetOrCreate returns the single thread between a couple and a vendor,
// creating it on first contact. The (couple, vendor) pair is unique.
func (r *threadRepository) GetOrCreate(ctx context.Context, coupleID, vendorID uint) (*models.Thread, error) {
	thread := models.Thread{
		CoupleID:      coupleID,
		VendorID:      vendorID,
		Status:        models.ThreadActive,
		LastMessageAt: time.Now(),
	}
	err := r.db.WithContext(ctx).
		Where("couple_id = ? AND vendor_id = ?", coupleID, vendorID).
		Clauses(clause.OnConflict{DoNothing: true}).
		FirstOrCreate(&thread).Error
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (r *threadRepository) GetUserThreads(ctx context.Context, userID uint) ([]*models.Thread, error) {
	var threads []*models.Thread
	err := r.db.WithContext(ctx).
		Where("couple_id = ? OR vendor_id = ?", userID, userID).
		Preload("Couple").
		Preload("Vendor").
		Order("last_message_at DESC").
		Find(&threads).Error
	return threads, err
}

func (r *threadRepository) TouchLastMessage(ctx context.Context, threadID uint, preview string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Thread{}).
		Where("id = ?", threadID).
		Updates(map[string]interface{}{
			"last_message_preview": preview,
			"last_message_at":      at,
		}).Error
}

// IncrementUnread bumps the unread counter of whichever side recipientID is on.
func (r *threadRepository) IncrementUnread(ctx context.Context, threadID, recipientID uint) error {
	if err := r.db.WithContext(ctx).Model(&models.Thread{}).
		Where("id = ? AND couple_id = ?", threadID, recipientID).
		Update("couple_unread", gorm.Expr("couple_unread + 1")).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.Thread{}).
		Where("id = ? AND vendor_id = ?", threadID, recipientID).
		Update("vendor_unread", gorm.Expr("vendor_unread + 1")).Error
}

func (r *threadRepository) ClearUnread(ctx context.Context, threadID, userID uint) error {
	if err := r.db.WithContext(ctx).Model(&models.Thread{}).
		Where("id = ? AND couple_id = ?", threadID, userID).
		Update("couple_unread", 0).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&models.Thread{}).
		Where("id = ? AND vendor_id = ?", threadID, userID).
		Update("vendor_unread", 0).Error
}

func (r *threadRepository) SetStatus(ctx context.Context, threadID uint, status string) error {
	return r.db.WithContext(ctx).Model(&models.Thread{}).
		Where("id = ?", threadID).
		Update("status", status).Error
}
