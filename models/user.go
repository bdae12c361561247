// Package models contains the domain entities and business models for the application
package models

import (
	"strings"
	"time"

	"github.com/amirphl/AdGuard-AI/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	UserRoleUser  = "user"
	UserRoleAdmin = "admin"
)

// User is the advertiser account. Accounts are owned by the account service;
// this service only reads them.
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID      uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Sector    string    `gorm:"type:varchar(255)" json:"sector"`
	Mobile    *string   `gorm:"type:varchar(20)" json:"mobile,omitempty"`
	Role      string    `gorm:"type:varchar(20);not null;default:'user'" json:"role"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.UUID == uuid.Nil {
		u.UUID = uuid.New()
	}
	if u.Role == "" {
		u.Role = UserRoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = utils.UTCNow()
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = utils.UTCNow()
	}
	return nil
}

// IsAdmin reports whether the user may review other users' reports
func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// PhoneNumber returns the trimmed mobile number, empty when absent
func (u *User) PhoneNumber() string {
	if u.Mobile == nil {
		return ""
	}
	return strings.TrimSpace(*u.Mobile)
}

// UserFilter represents filter criteria for user queries
type UserFilter struct {
	ID    *uint      `json:"id,omitempty"`
	UUID  *uuid.UUID `json:"uuid,omitempty"`
	Email *string    `json:"email,omitempty"`
	Role  *string    `json:"role,omitempty"`
}
