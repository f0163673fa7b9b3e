package models

import (
	"time"

	"gorm.io/gorm"
)

// Thread statuses.
const (
	ThreadActive   = "active"
	ThreadArchived = "archived"
)

// User roles within a thread.
const (
	RoleCouple = "couple"
	RoleVendor = "vendor"
)

// Thread is a single ongoing conversation between a couple and a vendor.
//
// UnreadCount, CounterpartID and CounterpartName are per-viewer projections:
// the stored columns track each side separately and handlers fill the
// projection for the requesting user. The projection fields are what the
// registry's pure ordering/unread functions operate on.
type Thread struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	CoupleID           uint           `gorm:"not null;index" json:"couple_id"`
	VendorID           uint           `gorm:"not null;index" json:"vendor_id"`
	Couple             *User          `gorm:"foreignKey:CoupleID" json:"couple,omitempty"`
	Vendor             *User          `gorm:"foreignKey:VendorID" json:"vendor,omitempty"`
	LastMessagePreview string         `gorm:"size:80" json:"last_message_preview"`
	LastMessageAt      time.Time      `gorm:"index" json:"last_message_at"`
	CoupleUnread       int            `gorm:"default:0" json:"-"`
	VendorUnread       int            `gorm:"default:0" json:"-"`
	Status             string         `gorm:"size:16;default:'active'" json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`

	// Per-viewer projection, not persisted.
	CounterpartID   uint   `gorm:"-" json:"counterpart_id"`
	CounterpartName string `gorm:"-" json:"counterpart_name"`
	UnreadCount     int    `gorm:"-" json:"unread_count"`
}

// CounterpartOf returns the other participant's user ID.
func (t *Thread) CounterpartOf(userID uint) uint {
	if userID == t.CoupleID {
		return t.VendorID
	}
	return t.CoupleID
}

// HasParticipant reports whether userID is one of the two parties.
func (t *Thread) HasParticipant(userID uint) bool {
	return userID == t.CoupleID || userID == t.VendorID
}

// UnreadFor returns the stored unread counter for the given participant.
func (t *Thread) UnreadFor(userID uint) int {
	if userID == t.CoupleID {
		return t.CoupleUnread
	}
	return t.VendorUnread
}

// ProjectFor fills the per-viewer projection fields and returns the thread.
func (t *Thread) ProjectFor(userID uint) *Thread {
	t.CounterpartID = t.CounterpartOf(userID)
	t.UnreadCount = t.UnreadFor(userID)
	if t.CounterpartID == t.VendorID && t.Vendor != nil {
		t.CounterpartName = t.Vendor.Name
	} else if t.Couple != nil {
		t.CounterpartName = t.Couple.Name
	}
	return t
}
