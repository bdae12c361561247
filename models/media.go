package models

import (
	"time"

	"github.com/amirphl/AdGuard-AI/utils"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Media holds the public URLs of the files stored for an advertisement
type Media struct {
	ID               uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	AdvertisementID  uint           `gorm:"not null;index" json:"advertisement_id"`
	UserID           uint           `gorm:"not null;index" json:"user_id"`
	AnalysisResultID *uint          `gorm:"index" json:"analysis_result_id,omitempty"`
	ImageURLs        pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"image_urls"`
	VideoURLs        pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"video_urls"`
	CreatedAt        time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`

	Advertisement *Advertisement `gorm:"foreignKey:AdvertisementID;references:ID;constraint:OnDelete:CASCADE" json:"advertisement,omitempty"`
}

func (Media) TableName() string { return "media" }

func (m *Media) BeforeCreate(tx *gorm.DB) error {
	if m.ImageURLs == nil {
		m.ImageURLs = pq.StringArray{}
	}
	if m.VideoURLs == nil {
		m.VideoURLs = pq.StringArray{}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = utils.UTCNow()
	}
	return nil
}

// MediaFilter represents filter criteria for media queries
type MediaFilter struct {
	ID               *uint `json:"id,omitempty"`
	AdvertisementID  *uint `json:"advertisement_id,omitempty"`
	UserID           *uint `json:"user_id,omitempty"`
	AnalysisResultID *uint `json:"analysis_result_id,omitempty"`
}
