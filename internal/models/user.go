package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a messaging participant: one half of a couple account or a vendor.
// Account management lives in the main platform; the messaging service only
// needs identity, role and the SMS handle for reminder escalation.
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Name         string         `gorm:"size:120;not null" json:"name"`
	Email        string         `gorm:"size:255;uniqueIndex" json:"email"`
	PasswordHash string         `gorm:"size:255" json:"-"`
	Role         string         `gorm:"size:16;not null;index" json:"role"` // couple, vendor
	Phone        string         `gorm:"size:32" json:"phone,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}
