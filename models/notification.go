package models

import (
	"time"

	"github.com/amirphl/AdGuard-AI/utils"
	"gorm.io/gorm"
)

// NotificationType classifies user notifications
type NotificationType string

const (
	NotificationTypeUploadSuccess   NotificationType = "upload_success"
	NotificationTypeCallScheduled   NotificationType = "call_scheduled"
	NotificationTypeComplianceError NotificationType = "compliance_error"
	NotificationTypeReportReady     NotificationType = "report_ready"
	NotificationTypeAdminReview     NotificationType = "admin_review"
)

func (t NotificationType) String() string {
	return string(t)
}

// Valid checks if the type is valid
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTypeUploadSuccess, NotificationTypeCallScheduled,
		NotificationTypeComplianceError, NotificationTypeReportReady,
		NotificationTypeAdminReview:
		return true
	default:
		return false
	}
}

// Notification is an append-only message to a user
type Notification struct {
	ID        uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint             `gorm:"not null;index" json:"user_id"`
	Type      NotificationType `gorm:"type:varchar(50);not null" json:"type"`
	Message   string           `gorm:"type:text;not null" json:"message"`
	IsRead    bool             `gorm:"not null;default:false" json:"is_read"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
	CreatedAt time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = utils.UTCNow()
	}
	return nil
}

// NotificationFilter represents filter criteria for notification queries
type NotificationFilter struct {
	ID     *uint             `json:"id,omitempty"`
	UserID *uint             `json:"user_id,omitempty"`
	Type   *NotificationType `json:"type,omitempty"`
	IsRead *bool             `json:"is_read,omitempty"`
}
