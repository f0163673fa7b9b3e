// Package models contains data structures for the application's domain models.
package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Message kinds. System messages are emitted by the platform itself
// (e.g. "vendor accepted your booking") and are never composed by users.
const (
	KindText     = "text"
	KindImage    = "image"
	KindDocument = "document"
	KindSystem   = "system"
)

// Message delivery statuses.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// MaxAttachmentsPerMessage caps how many attachments a single message can carry.
const MaxAttachmentsPerMessage = 5

// Message is a single message in a couple-vendor thread.
//
// LocalID is the correlation token minted by the composing client; the
// server-confirmed record keeps it so a client can replace its optimistic
// copy regardless of event interleaving. Content may legitimately be empty
// when attachments are present. Records are never physically removed from
// the thread view; deletion flips IsDeleted and clears displayed content.
type Message struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	LocalID     string         `gorm:"size:64;index" json:"local_id,omitempty"`
	ThreadID    uint           `gorm:"not null;index" json:"thread_id"`
	Thread      *Thread        `gorm:"foreignKey:ThreadID" json:"thread,omitempty"`
	SenderID    uint           `gorm:"not null;index" json:"sender_id"`
	Sender      *User          `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	SenderRole  string         `gorm:"size:16" json:"sender_role"` // couple, vendor
	Content     string         `gorm:"type:text" json:"content"`
	Kind        string         `gorm:"size:16;default:'text'" json:"kind"`
	Status      string         `gorm:"size:16;default:'sent';index" json:"status"`
	IsDeleted   bool           `gorm:"default:false" json:"is_deleted"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	Attachments []Attachment   `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
}

// Attachment is the durable record resolved by the attachment service.
// The messaging core only carries metadata, never raw bytes; rows are
// immutable once attached.
type Attachment struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	MessageID    uint      `gorm:"not null;index" json:"message_id"`
	Ref          string    `gorm:"size:128;index" json:"ref"`
	FileName     string    `gorm:"size:255" json:"file_name"`
	MimeType     string    `gorm:"size:128" json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	URL          string    `gorm:"size:512" json:"url"`
	ThumbnailURL string    `gorm:"size:512" json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasContent reports whether the message carries displayable content,
// either text or at least one attachment.
func (m *Message) HasContent() bool {
	return strings.TrimSpace(m.Content) != "" || len(m.Attachments) > 0
}

// ValidKind reports whether k is a recognized message kind.
func ValidKind(k string) bool {
	switch k {
	case KindText, KindImage, KindDocument, KindSystem:
		return true
	}
	return false
}
