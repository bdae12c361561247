package models

import (
	"time"

	"github.com/amirphl/AdGuard-AI/utils"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AdvertisementType is the creative kind of an advertisement
type AdvertisementType int

const (
	AdvertisementTypeImage AdvertisementType = 0
	AdvertisementTypeVideo AdvertisementType = 1
	AdvertisementTypeText  AdvertisementType = 2
)

// String returns the string representation of the type
func (t AdvertisementType) String() string {
	switch t {
	case AdvertisementTypeImage:
		return "image"
	case AdvertisementTypeVideo:
		return "video"
	case AdvertisementTypeText:
		return "text"
	default:
		return "unknown"
	}
}

// Valid checks if the type is valid
func (t AdvertisementType) Valid() bool {
	return t >= AdvertisementTypeImage && t <= AdvertisementTypeText
}

// Advertisement is a submitted ad. It is immutable after creation.
type Advertisement struct {
	ID             uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID           uuid.UUID         `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`
	UserID         uint              `gorm:"not null;index" json:"user_id"`
	Title          string            `gorm:"type:varchar(255);not null" json:"title"`
	Description    string            `gorm:"type:text;not null" json:"description"`
	Type           AdvertisementType `gorm:"type:smallint;not null" json:"type"`
	TargetRegion   *string           `gorm:"type:varchar(255)" json:"target_region,omitempty"`
	Language       *string           `gorm:"type:varchar(50)" json:"language,omitempty"`
	LandingURL     *string           `gorm:"type:text" json:"landing_url,omitempty"`
	TargetAudience *string           `gorm:"type:text" json:"target_audience,omitempty"`
	TargetAgeGroup datatypes.JSON    `gorm:"type:jsonb" json:"target_age_group,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	User *User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE" json:"user,omitempty"`
}

func (Advertisement) TableName() string { return "advertisements" }

// BeforeCreate ensures UUID and timestamps are set.
func (a *Advertisement) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.UTCNow()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	return nil
}

// AdvertisementFilter represents filter criteria for advertisement queries
type AdvertisementFilter struct {
	ID            *uint              `json:"id,omitempty"`
	UUID          *uuid.UUID         `json:"uuid,omitempty"`
	UserID        *uint              `json:"user_id,omitempty"`
	Type          *AdvertisementType `json:"type,omitempty"`
	CreatedAfter  *time.Time         `json:"created_after,omitempty"`
	CreatedBefore *time.Time         `json:"created_before,omitempty"`
}
