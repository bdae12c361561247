package models

import (
	"time"

	"github.com/amirphl/AdGuard-AI/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CallLogStatus is the lifecycle of a clarification call
type CallLogStatus int

const (
	CallLogStatusScheduled CallLogStatus = 0
	CallLogStatusInCall    CallLogStatus = 1
	CallLogStatusCompleted CallLogStatus = 2
)

func (s CallLogStatus) String() string {
	switch s {
	case CallLogStatusScheduled:
		return "scheduled"
	case CallLogStatusInCall:
		return "in_call"
	case CallLogStatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// IsActive reports whether the call still occupies the advertisement's call slot
func (s CallLogStatus) IsActive() bool {
	return s == CallLogStatusScheduled || s == CallLogStatusInCall
}

// CallLog records a clarification call placed with the call vendor
type CallLog struct {
	ID               uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           uint              `gorm:"not null;index" json:"user_id"`
	AdvertisementID  uint              `gorm:"not null;index" json:"advertisement_id"`
	AnalysisResultID uint              `gorm:"not null;index" json:"analysis_result_id"`
	ExternalCallID   *string           `gorm:"type:varchar(255);index" json:"external_call_id,omitempty"`
	Status           CallLogStatus     `gorm:"type:smallint;not null;default:0" json:"status"`
	Transcript       datatypes.JSON    `gorm:"type:jsonb" json:"transcript,omitempty"`
	ExecutionTime    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"execution_time"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	Advertisement *Advertisement `gorm:"foreignKey:AdvertisementID;references:ID;constraint:OnDelete:CASCADE" json:"advertisement,omitempty"`
}

func (CallLog) TableName() string { return "call_logs" }

func (c *CallLog) BeforeCreate(tx *gorm.DB) error {
	if c.ExecutionTime == nil {
		c.ExecutionTime = datatypes.JSONMap{}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return nil
}

// CallLogFilter represents filter criteria for call log queries
type CallLogFilter struct {
	ID              *uint          `json:"id,omitempty"`
	AdvertisementID *uint          `json:"advertisement_id,omitempty"`
	UserID          *uint          `json:"user_id,omitempty"`
	Status          *CallLogStatus `json:"status,omitempty"`
	ActiveOnly      *bool          `json:"active_only,omitempty"`
	ExternalCallID  *string        `json:"external_call_id,omitempty"`
}
